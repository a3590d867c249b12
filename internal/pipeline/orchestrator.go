package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/docarena/internal/gate"
	"github.com/stellarlinkco/docarena/internal/leaderboard"
	"github.com/stellarlinkco/docarena/internal/llm"
	"github.com/stellarlinkco/docarena/internal/run"
	"github.com/stellarlinkco/docarena/internal/stats"
	"github.com/stellarlinkco/docarena/internal/store"
	"github.com/stellarlinkco/docarena/internal/tournament"
)

const persistTimeout = 10 * time.Second

// ErrCancelled is the cancellation cause set by Cancel. It distinguishes
// an operator cancel from a run-timeout abort in the final status.
var ErrCancelled = errors.New("pipeline: run cancelled")

// Orchestrator sequences run phases, bounds concurrency through a
// per-run gate, and wires the broadcaster and state store together.
type Orchestrator struct {
	registry *llm.Registry
	store    store.Store
	bc       *stats.Broadcaster
	board    *leaderboard.Store
	logger   *slog.Logger

	mu   sync.Mutex
	runs map[string]context.CancelCauseFunc
}

// New creates an Orchestrator. store and board may be nil for ephemeral
// runs that keep no durable state.
func New(registry *llm.Registry, st store.Store, bc *stats.Broadcaster, board *leaderboard.Store, logger *slog.Logger) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("pipeline: nil registry")
	}
	if bc == nil {
		return nil, errors.New("pipeline: nil broadcaster")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		store:    st,
		bc:       bc,
		board:    board,
		logger:   logger,
		runs:     make(map[string]context.CancelCauseFunc),
	}, nil
}

// Start validates cfg, persists the new run, and executes it
// asynchronously. Returns the run id immediately.
func (o *Orchestrator) Start(cfg *run.RunConfig) (string, error) {
	if o == nil {
		return "", errors.New("pipeline: nil orchestrator")
	}
	if err := run.Validate(cfg); err != nil {
		return "", err
	}

	id := newRunID()
	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := o.store.CreateRun(ctx, id, cfg)
		cancel()
		if err != nil {
			return "", err
		}
	}

	ctx, cancelCause := context.WithCancelCause(context.Background())
	o.mu.Lock()
	o.runs[id] = cancelCause
	o.mu.Unlock()

	go func() {
		defer func() {
			cancelCause(nil)
			o.mu.Lock()
			delete(o.runs, id)
			o.mu.Unlock()
		}()
		if _, err := o.Execute(ctx, id, cfg); err != nil {
			o.logger.Error("run execution failed", "run_id", id, "error", err)
		}
	}()

	return id, nil
}

// Cancel requests run-level cancellation: no new tasks dispatch, in-flight
// calls finish or hit their deadlines, and the run lands in cancelled.
// Returns false when the run is not active.
func (o *Orchestrator) Cancel(id string) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	cancelCause := o.runs[id]
	o.mu.Unlock()
	if cancelCause == nil {
		return false
	}
	cancelCause(ErrCancelled)
	return true
}

// Active reports whether the run is currently executing.
func (o *Orchestrator) Active(id string) bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.runs[id]
	return ok
}

// Execute runs the whole pipeline for one config synchronously. Source
// documents progress independently; a failure in one never blocks
// siblings. The run-level timeout bounds everything.
func (o *Orchestrator) Execute(ctx context.Context, id string, cfg *run.RunConfig) (*run.Run, error) {
	if o == nil {
		return nil, errors.New("pipeline: nil orchestrator")
	}
	if ctx == nil {
		return nil, errors.New("pipeline: nil context")
	}
	if err := run.Validate(cfg); err != nil {
		return nil, err
	}

	logger := o.logger.With("run_id", id)
	rs := &runState{
		id:     id,
		cfg:    cfg,
		gate:   gate.New(cfg.GenConcurrency, cfg.EvalConcurrency, cfg.LaunchDelay()),
		logger: logger,
	}

	r := &run.Run{
		ID:        id,
		Status:    run.StatusRunning,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
	}
	o.updateStatus(id, run.StatusRunning, time.Time{}, "")
	o.publish(stats.Event{Type: stats.EventRunStarted, RunID: id, DocsTotal: len(cfg.SourceDocs)})
	logger.Info("run started",
		"source_docs", len(cfg.SourceDocs),
		"tuples", cfg.TupleCount(),
		"gen_concurrency", cfg.GenConcurrency,
		"eval_concurrency", cfg.EvalConcurrency)

	tctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout())
	defer cancel()

	results := make([]*run.SourceDocResult, len(cfg.SourceDocs))
	var eg errgroup.Group
	for i, doc := range cfg.SourceDocs {
		i, doc := i, doc
		eg.Go(func() error {
			results[i] = o.execDoc(tctx, rs, doc)
			o.publish(stats.Event{Type: stats.EventDocCompleted, RunID: id, SourceDoc: doc.ID})
			return nil
		})
	}
	_ = eg.Wait()

	r.Results = results
	r.FinishedAt = time.Now().UTC()
	r.Status, r.LastError = finalStatus(tctx, results)

	o.publish(stats.Event{Type: stats.EventRunFinished, RunID: id, Phase: run.Phase(r.Status)})
	o.persistFinal(r)
	o.recordStandings(r)
	logger.Info("run finished",
		"status", r.Status,
		"elapsed", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return r, nil
}

func finalStatus(ctx context.Context, results []*run.SourceDocResult) (run.Status, string) {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled) {
			return run.StatusCancelled, "run cancelled"
		}
		return run.StatusFailed, "run timeout exceeded"
	}

	allFailed := len(results) > 0
	anyErrors := false
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Phase != run.PhaseFailed {
			allFailed = false
		}
		if len(res.Errors) > 0 {
			anyErrors = true
		}
	}
	if allFailed {
		return run.StatusFailed, "all source documents failed"
	}
	if anyErrors {
		return run.StatusCompletedErrors, ""
	}
	return run.StatusCompleted, ""
}

func (o *Orchestrator) publish(ev stats.Event) {
	if o.bc != nil {
		o.bc.Publish(ev)
	}
}

func (o *Orchestrator) updateStatus(id string, status run.Status, finishedAt time.Time, lastError string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.UpdateRunStatus(ctx, id, status, finishedAt, lastError); err != nil {
		o.logger.Warn("update run status failed", "run_id", id, "error", err)
	}
}

func (o *Orchestrator) persistFinal(r *run.Run) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.SaveFinalResult(ctx, r); err != nil {
		o.logger.Warn("persist final result failed", "run_id", r.ID, "error", err)
	}
}

// recordStandings folds the finished run into the cross-run model
// leaderboard: per generator model, average single-eval score, tournament
// record, and cost.
func (o *Orchestrator) recordStandings(r *run.Run) {
	if o.board == nil || r.Status == run.StatusCancelled {
		return
	}

	type agg struct {
		scoreSum  float64
		scoreN    int
		ratingSum float64
		ratingN   int
		wins      int
		losses    int
		cost      float64
	}
	byModel := make(map[run.ModelRef]*agg)
	get := func(m run.ModelRef) *agg {
		a := byModel[m]
		if a == nil {
			a = &agg{}
			byModel[m] = a
		}
		return a
	}

	for _, res := range r.Results {
		if res == nil {
			continue
		}
		for _, s := range res.Scores {
			a := get(run.ModelRef{Provider: s.DocID.Provider, Model: s.DocID.Model})
			a.scoreSum += float64(s.Score)
			a.scoreN++
		}
		for _, rk := range res.Rankings {
			a := get(run.ModelRef{Provider: rk.DocID.Provider, Model: rk.DocID.Model})
			a.wins += rk.Wins
			a.losses += rk.Losses
			a.ratingSum += rk.Rating
			a.ratingN++
		}
		for _, d := range res.Documents {
			a := get(run.ModelRef{Provider: d.ID.Provider, Model: d.ID.Model})
			a.cost += d.CostCents
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for m, a := range byModel {
		entry := &leaderboard.Entry{
			RunID:     r.ID,
			Model:     m.Model,
			Provider:  m.Provider,
			Wins:      a.wins,
			Losses:    a.losses,
			CostCents: a.cost,
			Rating:    tournament.BaseRating,
		}
		if a.scoreN > 0 {
			entry.AvgScore = a.scoreSum / float64(a.scoreN)
		}
		if a.ratingN > 0 {
			entry.Rating = a.ratingSum / float64(a.ratingN)
		}
		if err := o.board.Save(ctx, entry); err != nil {
			o.logger.Warn("save leaderboard entry failed", "run_id", r.ID, "model", m.String(), "error", err)
		}
	}
}

type runState struct {
	id     string
	cfg    *run.RunConfig
	gate   *gate.Gate
	logger *slog.Logger
}

func newRunID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run_%d", time.Now().UTC().UnixNano())
	}
	return fmt.Sprintf("run_%d_%s", time.Now().UTC().Unix(), hex.EncodeToString(b))
}
