package gate

import (
	"context"
	"errors"
	"time"
)

// Pool selects which bounded slot set a call draws from.
type Pool int

const (
	Generation Pool = iota
	Evaluation
)

// Gate bounds how many generation and evaluation calls may be in flight
// simultaneously. An optional launch delay throttles burst dispatch
// against rate-limited external services.
type Gate struct {
	gen         chan struct{}
	eval        chan struct{}
	launchDelay time.Duration
}

// New creates a Gate with the given per-pool limits.
func New(genLimit, evalLimit int, launchDelay time.Duration) *Gate {
	if genLimit <= 0 {
		genLimit = 1
	}
	if evalLimit <= 0 {
		evalLimit = 1
	}
	if launchDelay < 0 {
		launchDelay = 0
	}
	return &Gate{
		gen:         make(chan struct{}, genLimit),
		eval:        make(chan struct{}, evalLimit),
		launchDelay: launchDelay,
	}
}

// Acquire blocks until a slot in the pool is free, then waits the launch
// delay. On context cancellation during the delay the slot is returned
// before the error is reported, so callers only Release after a nil
// return.
func (g *Gate) Acquire(ctx context.Context, p Pool) error {
	if g == nil {
		return errors.New("gate: nil gate")
	}
	if ctx == nil {
		return errors.New("gate: nil context")
	}

	sem := g.pool(p)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if g.launchDelay > 0 {
		timer := time.NewTimer(g.launchDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			<-sem
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Release returns a slot unconditionally.
func (g *Gate) Release(p Pool) {
	if g == nil {
		return
	}
	select {
	case <-g.pool(p):
	default:
	}
}

func (g *Gate) pool(p Pool) chan struct{} {
	if p == Evaluation {
		return g.eval
	}
	return g.gen
}
