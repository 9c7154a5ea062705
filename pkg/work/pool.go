// Package work provides a bounded background worker pool for fire-and-forget
// tasks spawned off the interactive turn path (intelligence merges, pattern
// writes, notifications, security logging). Tasks run with a per-task
// deadline, recover from panics, and report failures to the logger only;
// nothing here may surface an error to the request that spawned it.
package work

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of background work. The context carries the per-task
// deadline; tasks must respect it on any external call.
type Task func(ctx context.Context) error

// Pool limits concurrent background tasks to prevent goroutine explosion.
type Pool struct {
	sem     chan struct{}
	timeout time.Duration
	log     *zap.Logger

	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
	done    atomic.Int64
}

// NewPool creates a pool with the given capacity and per-task timeout.
// Capacity should be set based on expected load and resource constraints.
func NewPool(capacity int, timeout time.Duration, log *zap.Logger) *Pool {
	if capacity <= 0 {
		capacity = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		sem:     make(chan struct{}, capacity),
		timeout: timeout,
		log:     log,
	}
}

// Submit schedules a task without blocking the caller. At capacity the task
// is dropped and counted; dropping is acceptable for best-effort work and
// preferable to unbounded goroutine growth.
func (p *Pool) Submit(name string, task Task) bool {
	select {
	case p.sem <- struct{}{}:
	default:
		p.dropped.Add(1)
		p.log.Warn("background task dropped at capacity", zap.String("task", name))
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.failed.Add(1)
				p.log.Error("background task panicked",
					zap.String("task", name), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := task(ctx); err != nil {
			p.failed.Add(1)
			p.log.Warn("background task failed",
				zap.String("task", name), zap.Error(err))
			return
		}
		p.done.Add(1)
	}()
	return true
}

// Wait blocks until all in-flight tasks complete. Intended for shutdown
// and tests; new submissions during Wait are not prevented.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats provides pool metrics for monitoring.
type Stats struct {
	Capacity  int   `json:"capacity"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:  cap(p.sem),
		InFlight:  len(p.sem),
		Completed: p.done.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
