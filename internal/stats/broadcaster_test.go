package stats

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stellarlinkco/docarena/internal/run"
)

type captureWriter struct {
	mu    sync.Mutex
	snaps []run.StatsSnapshot
}

func (w *captureWriter) SaveSnapshot(ctx context.Context, runID string, snap *run.StatsSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snaps = append(w.snaps, snap.Clone())
	return nil
}

func (w *captureWriter) last() (run.StatsSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.snaps) == 0 {
		return run.StatsSnapshot{}, false
	}
	return w.snaps[len(w.snaps)-1], true
}

func newTestBroadcaster(t *testing.T, w SnapshotWriter) *Broadcaster {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBroadcaster(w, time.Hour, logger)
	b.Start()
	t.Cleanup(b.Close)
	return b
}

// waitFor polls cond until it holds or the deadline passes. The consumer
// goroutine applies events asynchronously, so assertions must poll.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBroadcaster_Counters(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, nil)
	const id = "run_counters"

	b.Publish(Event{Type: EventRunStarted, RunID: id, DocsTotal: 3})
	b.Publish(Event{Type: EventCallStarted, RunID: id, Call: "c1"})
	b.Publish(Event{Type: EventCallSucceeded, RunID: id, Call: "c1"})
	b.Publish(Event{Type: EventCallStarted, RunID: id, Call: "c2"})
	b.Publish(Event{Type: EventCallRetried, RunID: id, Call: "c2", Err: "503"})
	b.Publish(Event{Type: EventCallFailed, RunID: id, Call: "c2", Err: "503 again"})
	b.Publish(Event{Type: EventDocCompleted, RunID: id, SourceDoc: "doc-1"})

	waitFor(t, func() bool {
		snap, ok := b.Snapshot(id)
		return ok && snap.DocsCompleted == 1
	})

	snap, _ := b.Snapshot(id)
	if snap.DocsTotal != 3 {
		t.Fatalf("docs total: got %d want 3", snap.DocsTotal)
	}
	if snap.CallsStarted != 2 || snap.CallsSucceeded != 1 || snap.CallsFailed != 1 || snap.CallsRetried != 1 {
		t.Fatalf("counters: %+v", snap)
	}
	if snap.LastError != "503 again" {
		t.Fatalf("last error: got %q", snap.LastError)
	}
	if len(snap.Errors) != 1 {
		t.Fatalf("errors: got %d want 1", len(snap.Errors))
	}
}

func TestBroadcaster_SuccessClearsOwnCallError(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, nil)
	const id = "run_clear"

	b.Publish(Event{Type: EventCallFailed, RunID: id, Call: "x", Err: "x broke"})
	b.Publish(Event{Type: EventCallSucceeded, RunID: id, Call: "x"})

	waitFor(t, func() bool {
		snap, ok := b.Snapshot(id)
		return ok && snap.CallsSucceeded == 1
	})

	snap, _ := b.Snapshot(id)
	if snap.LastError != "" {
		t.Fatalf("last error should be cleared, got %q", snap.LastError)
	}
	if len(snap.CallErrors) != 0 {
		t.Fatalf("call errors should be empty: %v", snap.CallErrors)
	}
}

func TestBroadcaster_SuccessKeepsSiblingCallError(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, nil)
	const id = "run_sibling"

	b.Publish(Event{Type: EventCallFailed, RunID: id, Call: "y", Err: "y broke"})
	b.Publish(Event{Type: EventCallSucceeded, RunID: id, Call: "x"})

	waitFor(t, func() bool {
		snap, ok := b.Snapshot(id)
		return ok && snap.CallsSucceeded == 1
	})

	snap, _ := b.Snapshot(id)
	if snap.LastError != "y broke" {
		t.Fatalf("sibling error must stay visible, got %q", snap.LastError)
	}
	if snap.CallErrors["y"] != "y broke" {
		t.Fatalf("call errors: %v", snap.CallErrors)
	}
}

func TestBroadcaster_PersistsOnPhaseChange(t *testing.T) {
	t.Parallel()

	w := &captureWriter{}
	b := newTestBroadcaster(t, w)
	const id = "run_persist"

	b.Publish(Event{Type: EventRunStarted, RunID: id, DocsTotal: 1})
	b.Publish(Event{Type: EventPhaseChanged, RunID: id, Phase: run.PhaseGenerating})

	waitFor(t, func() bool {
		snap, ok := w.last()
		return ok && snap.Phase == run.PhaseGenerating
	})
}

func TestBroadcaster_SubscriberSeesTerminalPhase(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, nil)
	const id = "run_terminal"

	ch, cancel := b.Subscribe(id)
	defer cancel()

	b.Publish(Event{Type: EventRunStarted, RunID: id, DocsTotal: 1})
	b.Publish(Event{Type: EventRunFinished, RunID: id, Phase: run.PhaseCompleted})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if run.Status(snap.Phase).Terminal() {
				return
			}
		case <-deadline:
			t.Fatalf("never saw terminal snapshot")
		}
	}
}

func TestBroadcaster_SlowSubscriberNeverBlocks(t *testing.T) {
	t.Parallel()

	b := newTestBroadcaster(t, nil)
	const id = "run_slow"

	// Never drained: every push past the channel buffer must be dropped
	// rather than stall the consumer.
	_, cancel := b.Subscribe(id)
	defer cancel()

	for i := 0; i < subscriberBuffer*4; i++ {
		b.Publish(Event{Type: EventCallStarted, RunID: id, Call: "c"})
	}

	waitFor(t, func() bool {
		snap, ok := b.Snapshot(id)
		return ok && snap.CallsStarted == subscriberBuffer*4
	})
}
