package coordination

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_BurstCollapsesToOnePass(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	d := NewDebouncer(cmd, 30*time.Millisecond)

	var fired atomic.Int32
	fire := func(context.Context) error {
		fired.Add(1)
		return nil
	}

	planted, err := d.Schedule(ctx, "conv-1", fire)
	if err != nil || !planted {
		t.Fatalf("first message should own the pass: planted=%v err=%v", planted, err)
	}
	for i := 0; i < 5; i++ {
		planted, err = d.Schedule(ctx, "conv-1", fire)
		if err != nil {
			t.Fatalf("follower errored: %v", err)
		}
		if planted {
			t.Fatal("follower planted a second pass inside the window")
		}
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("burst of 6 fired %d passes, want 1", got)
	}
}

// The webhook handler cancels its request context as soon as it returns 200.
// The owner's delayed pass has to survive that, and the marker has to come
// down afterwards so the next burst can plant again.
func TestDebouncer_FiresAfterCallerContextCancelled(t *testing.T) {
	cmd := newMemoryCommander()
	d := NewDebouncer(cmd, 20*time.Millisecond)

	var fired atomic.Int32
	fire := func(context.Context) error {
		fired.Add(1)
		return nil
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	planted, err := d.Schedule(reqCtx, "conv-1", fire)
	if err != nil || !planted {
		t.Fatalf("owner should plant: planted=%v err=%v", planted, err)
	}
	cancel()

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("pass fired %d times after caller cancel, want 1", got)
	}

	planted, err = d.Schedule(context.Background(), "conv-1", fire)
	if err != nil || !planted {
		t.Fatalf("marker should be gone after the pass: planted=%v err=%v", planted, err)
	}
}
