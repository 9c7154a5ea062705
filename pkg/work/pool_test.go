package work

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4, time.Second, zap.NewNop())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		p.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	p.Wait()

	if got := ran.Load(); got != 10 {
		t.Errorf("expected 10 tasks to run, got %d", got)
	}
	if s := p.Stats(); s.Completed != 10 {
		t.Errorf("expected 10 completed, got %d", s.Completed)
	}
}

func TestPoolDropsAtCapacity(t *testing.T) {
	p := NewPool(1, time.Second, zap.NewNop())

	release := make(chan struct{})
	p.Submit("blocker", func(ctx context.Context) error {
		<-release
		return nil
	})

	// Give the blocker time to occupy the only slot.
	time.Sleep(20 * time.Millisecond)

	if p.Submit("overflow", func(ctx context.Context) error { return nil }) {
		t.Error("expected submission at capacity to be dropped")
	}
	close(release)
	p.Wait()

	if s := p.Stats(); s.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", s.Dropped)
	}
}

func TestPoolTaskTimeout(t *testing.T) {
	p := NewPool(1, 30*time.Millisecond, zap.NewNop())

	done := make(chan error, 1)
	p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	p.Wait()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	default:
		t.Fatal("task never observed its deadline")
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(1, time.Second, zap.NewNop())

	p.Submit("boom", func(ctx context.Context) error {
		panic("boom")
	})
	p.Wait()

	if s := p.Stats(); s.Failed != 1 {
		t.Errorf("expected panic counted as failure, got %+v", s)
	}

	// Pool must still be usable after a panic.
	if !p.Submit("after", func(ctx context.Context) error { return nil }) {
		t.Error("pool unusable after panic")
	}
	p.Wait()
}
