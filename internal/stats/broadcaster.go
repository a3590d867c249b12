package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stellarlinkco/docarena/internal/run"
)

const (
	defaultPersistInterval = 5 * time.Second
	eventBuffer            = 1024
	subscriberBuffer       = 16
	maxSnapshotErrors      = 50
	persistTimeout         = 10 * time.Second
)

// SnapshotWriter persists snapshots so observers that attach late can
// reconstruct state without the live stream.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, runID string, snap *run.StatsSnapshot) error
}

type tracker struct {
	snap          run.StatsSnapshot
	subs          map[chan run.StatsSnapshot]struct{}
	lastErrorCall string
	terminal      bool
}

// Broadcaster maintains one StatsSnapshot per active run. Producers
// publish typed events onto a queue; a single consumer goroutine
// serializes all snapshot mutation. Pushes to observers are
// drop-and-continue: a slow or gone observer never stalls the pipeline.
type Broadcaster struct {
	events   chan Event
	store    SnapshotWriter
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]*tracker

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewBroadcaster creates a Broadcaster persisting through store. A nil
// store disables persistence (used by the CLI's ephemeral runs).
func NewBroadcaster(store SnapshotWriter, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = defaultPersistInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		events:   make(chan Event, eventBuffer),
		store:    store,
		interval: interval,
		logger:   logger,
		runs:     make(map[string]*tracker),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (b *Broadcaster) Start() {
	go b.consume()
}

// Close stops the consumer after draining queued events.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	<-b.stopped
}

// Publish enqueues an event. Blocks only when the queue is full and the
// consumer is alive; after Close events are dropped.
func (b *Broadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// Subscribe attaches an observer to a run's snapshot stream. The returned
// cancel function detaches it. Subscribing to an unknown run is allowed:
// events for it may still arrive, or the caller falls back to persisted
// state.
func (b *Broadcaster) Subscribe(runID string) (<-chan run.StatsSnapshot, func()) {
	ch := make(chan run.StatsSnapshot, subscriberBuffer)

	b.mu.Lock()
	t := b.runs[runID]
	if t == nil {
		t = &tracker{subs: make(map[chan run.StatsSnapshot]struct{})}
		t.snap.RunID = runID
		b.runs[runID] = t
	}
	t.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if t, ok := b.runs[runID]; ok {
			delete(t.subs, ch)
			if t.terminal && len(t.subs) == 0 {
				delete(b.runs, runID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns a copy of the current in-memory snapshot.
func (b *Broadcaster) Snapshot(runID string) (run.StatsSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.runs[runID]
	if !ok {
		return run.StatsSnapshot{}, false
	}
	return t.snap.Clone(), true
}

func (b *Broadcaster) consume() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-b.events:
			b.apply(ev)
		case <-ticker.C:
			b.persistAll()
		case <-b.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-b.events:
					b.apply(ev)
				default:
					b.persistAll()
					return
				}
			}
		}
	}
}

func (b *Broadcaster) apply(ev Event) {
	b.mu.Lock()

	t := b.runs[ev.RunID]
	if t == nil {
		t = &tracker{subs: make(map[chan run.StatsSnapshot]struct{})}
		t.snap.RunID = ev.RunID
		b.runs[ev.RunID] = t
	}
	snap := &t.snap

	persist := false
	switch ev.Type {
	case EventRunStarted:
		snap.Phase = run.PhasePending
		snap.StartedAt = ev.At
		snap.DocsTotal = ev.DocsTotal
		persist = true
	case EventPhaseChanged:
		snap.Phase = ev.Phase
		persist = true
	case EventCallStarted:
		snap.CallsStarted++
		snap.CurrentCall = ev.Call
	case EventCallRetried:
		snap.CallsRetried++
		b.recordError(t, ev.Call, ev.Err)
	case EventCallFailed:
		snap.CallsFailed++
		b.recordError(t, ev.Call, ev.Err)
		if len(snap.Errors) < maxSnapshotErrors {
			snap.Errors = append(snap.Errors, ev.Err)
		}
	case EventCallSucceeded:
		snap.CallsSucceeded++
		// A success on the same call stream clears that stream's error;
		// failures recorded by sibling streams stay visible.
		if t.snap.CallErrors != nil {
			delete(t.snap.CallErrors, ev.Call)
		}
		if t.lastErrorCall == ev.Call {
			t.lastErrorCall = ""
			snap.LastError = ""
			for call, msg := range t.snap.CallErrors {
				t.lastErrorCall = call
				snap.LastError = msg
				break
			}
		}
	case EventDocCompleted:
		snap.DocsCompleted++
	case EventRunFinished:
		snap.Phase = ev.Phase
		snap.CurrentCall = ""
		t.terminal = true
		persist = true
	}
	snap.UpdatedAt = ev.At

	b.push(t)
	dropped := t.terminal && len(t.subs) == 0
	if dropped {
		delete(b.runs, ev.RunID)
	}
	var toPersist *run.StatsSnapshot
	if persist {
		s := snap.Clone()
		toPersist = &s
	}
	b.mu.Unlock()

	if toPersist != nil {
		b.persist(ev.RunID, toPersist)
	}
}

func (b *Broadcaster) recordError(t *tracker, call, msg string) {
	if t.snap.CallErrors == nil {
		t.snap.CallErrors = make(map[string]string)
	}
	t.snap.CallErrors[call] = msg
	t.snap.LastError = msg
	t.lastErrorCall = call
}

// push fans the snapshot out to subscribers without ever blocking: a full
// subscriber channel just misses this update and catches the next one.
func (b *Broadcaster) push(t *tracker) {
	if len(t.subs) == 0 {
		return
	}
	snap := t.snap.Clone()
	for ch := range t.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (b *Broadcaster) persistAll() {
	b.mu.Lock()
	snaps := make(map[string]*run.StatsSnapshot, len(b.runs))
	for id, t := range b.runs {
		if t.terminal {
			continue
		}
		s := t.snap.Clone()
		snaps[id] = &s
	}
	b.mu.Unlock()

	for id, s := range snaps {
		b.persist(id, s)
	}
}

func (b *Broadcaster) persist(runID string, snap *run.StatsSnapshot) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.store.SaveSnapshot(ctx, runID, snap); err != nil {
		b.logger.Warn("persist snapshot failed", "run_id", runID, "error", err)
	}
}
