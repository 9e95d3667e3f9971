package relay

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate admits a single relay session across every front end.
type Gate struct {
	sem    *semaphore.Weighted
	active atomic.Bool
}

func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Enter blocks until the session slot is free or ctx is done.
func (g *Gate) Enter(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.active.Store(true)
	return nil
}

func (g *Gate) TryEnter() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.active.Store(true)
	return true
}

func (g *Gate) Leave() {
	g.active.Store(false)
	g.sem.Release(1)
}

func (g *Gate) Active() bool {
	return g.active.Load()
}
