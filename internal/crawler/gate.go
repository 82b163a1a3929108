package crawler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of transfers in flight. Waiters are admitted in
// FIFO order and a cancelled context abandons the wait.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewGate creates a Gate admitting up to capacity holders. Capacities below
// one are raised to one.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once; only the first call frees the slot.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity returns the maximum number of concurrent holders.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}
