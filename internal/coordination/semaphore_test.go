package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphore_NeverExceedsLimit(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()

	const limit = 3
	sem := NewSemaphore(cmd, "oracle", limit, time.Minute)
	sem.pollInterval = time.Millisecond

	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Enter(ctx); err != nil {
				t.Errorf("enter failed: %v", err)
				return
			}
			defer sem.Exit(ctx)

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > limit {
		t.Fatalf("semaphore admitted %d concurrent holders, limit %d", peak.Load(), limit)
	}
	occ, err := sem.Occupancy(ctx)
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	if occ != 0 {
		t.Fatalf("occupancy %d after all holders exited, want 0", occ)
	}
}

func TestSemaphore_ExitAfterPanicStillReleases(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	sem := NewSemaphore(cmd, "oracle", 1, time.Minute)

	func() {
		defer func() { recover() }()
		if err := sem.Enter(ctx); err != nil {
			t.Fatalf("enter: %v", err)
		}
		defer sem.Exit(ctx)
		panic("unit of work blew up")
	}()

	occ, _ := sem.Occupancy(ctx)
	if occ != 0 {
		t.Fatalf("occupancy %d after deferred exit, want 0", occ)
	}
}

func TestSemaphore_DoubleExitIsNoOp(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	sem := NewSemaphore(cmd, "marketplace:acc-1", 2, time.Minute)

	if err := sem.Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}
	sem.Exit(ctx)
	sem.Exit(ctx) // second exit must not drive the counter negative

	ok, occ, err := sem.TryEnter(ctx)
	if err != nil || !ok {
		t.Fatalf("TryEnter after double exit: ok=%v occ=%d err=%v", ok, occ, err)
	}
	got, _ := sem.Occupancy(ctx)
	if got != 1 {
		t.Fatalf("occupancy %d, want 1", got)
	}
}

func TestSemaphore_TryEnterReportsOccupancyWhenFull(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	sem := NewSemaphore(cmd, "oracle", 1, time.Minute)

	if err := sem.Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}
	ok, occ, err := sem.TryEnter(ctx)
	if err != nil {
		t.Fatalf("TryEnter: %v", err)
	}
	if ok {
		t.Fatal("TryEnter admitted past the limit")
	}
	if occ != 1 {
		t.Fatalf("reported occupancy %d, want 1", occ)
	}
}

func TestSemaphore_EnterHonorsContextCancel(t *testing.T) {
	cmd := newMemoryCommander()
	sem := NewSemaphore(cmd, "oracle", 1, time.Minute)
	sem.pollInterval = time.Millisecond

	if err := sem.Enter(context.Background()); err != nil {
		t.Fatalf("enter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sem.Enter(ctx); err == nil {
		t.Fatal("expected context error while gate is full")
	}
}
