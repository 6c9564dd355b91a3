package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestQuota_ConcurrentSpendNeverNegative(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	ledger := NewQuotaLedger(cmd)

	const seed = 10
	if err := ledger.InitIfAbsent(ctx, "acc-1", seed); err != nil {
		t.Fatalf("init: %v", err)
	}

	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remaining, ok, err := ledger.TrySpend(ctx, "acc-1")
			if err != nil {
				t.Errorf("spend error: %v", err)
				return
			}
			if ok {
				succeeded.Add(1)
				if remaining < 0 {
					t.Errorf("remaining went negative: %d", remaining)
				}
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != seed {
		t.Fatalf("%d spends succeeded, want %d", succeeded.Load(), seed)
	}
	left, err := ledger.Remaining(ctx, "acc-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if left != 0 {
		t.Fatalf("remaining %d after exhausting, want 0", left)
	}
}

func TestQuota_LastUnitRace(t *testing.T) {
	// Scenario from the design review: remaining=1, two concurrent spends,
	// exactly one wins.
	cmd := newMemoryCommander()
	ctx := context.Background()
	ledger := NewQuotaLedger(cmd)

	if err := ledger.InitIfAbsent(ctx, "acc-1", 1); err != nil {
		t.Fatalf("init: %v", err)
	}

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok, err := ledger.TrySpend(ctx, "acc-1")
			if err != nil {
				t.Errorf("spend: %v", err)
			}
			results <- ok
		}()
	}

	wins := 0
	for i := 0; i < 2; i++ {
		if <-results {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d winners for the last unit, want exactly 1", wins)
	}
}

func TestQuota_RefundRestoresPriorValue(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	ledger := NewQuotaLedger(cmd)

	if err := ledger.InitIfAbsent(ctx, "acc-1", 5); err != nil {
		t.Fatalf("init: %v", err)
	}

	remaining, ok, err := ledger.TrySpend(ctx, "acc-1")
	if err != nil || !ok {
		t.Fatalf("spend: ok=%v err=%v", ok, err)
	}
	if remaining != 4 {
		t.Fatalf("remaining %d after spend, want 4", remaining)
	}

	// Downstream paid action failed; compensate.
	ledger.Refund(ctx, "acc-1")

	left, _ := ledger.Remaining(ctx, "acc-1")
	if left != 5 {
		t.Fatalf("remaining %d after refund, want the prior 5", left)
	}
}

func TestQuota_ExhaustedIsHardStop(t *testing.T) {
	cmd := newMemoryCommander()
	ctx := context.Background()
	ledger := NewQuotaLedger(cmd)

	// Never initialized: treated as exhausted, not as infinite.
	_, ok, err := ledger.TrySpend(ctx, "acc-unknown")
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if ok {
		t.Fatal("spend succeeded on an uninitialized resource")
	}

	// InitIfAbsent must not clobber a live balance.
	if err := ledger.InitIfAbsent(ctx, "acc-1", 3); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, _, err := ledger.TrySpend(ctx, "acc-1"); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if err := ledger.InitIfAbsent(ctx, "acc-1", 100); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	left, _ := ledger.Remaining(ctx, "acc-1")
	if left != 2 {
		t.Fatalf("remaining %d, want 2 (re-seed must not overwrite)", left)
	}
}
