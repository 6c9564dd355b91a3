package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFromHTTPClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{401, KindTransient}, // stale token, refresh on retry
		{404, KindTerminalExternal},
		{403, KindTerminalExternal},
		{400, KindTerminalExternal},
	}
	for _, tc := range cases {
		f := FromHTTP(tc.status, "body")
		if f.Kind != tc.kind {
			t.Errorf("FromHTTP(%d).Kind = %s, want %s", tc.status, f.Kind, tc.kind)
		}
	}
}

func TestRetryableByKind(t *testing.T) {
	if !New(KindTransient, "x").Retryable() {
		t.Error("transient should be retryable")
	}
	for _, k := range []Kind{KindTerminalExternal, KindContractViolation, KindResourceExhaustion, KindConsistencyConflict} {
		if New(k, "x").Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
	// Unclassified errors stay retryable so work is never silently dropped.
	if !IsRetryable(errors.New("who knows")) {
		t.Error("unknown error should be retryable")
	}
}

func TestClassifyContextAndNetwork(t *testing.T) {
	if f := Classify(context.DeadlineExceeded); f.Kind != KindTransient {
		t.Errorf("deadline exceeded classified as %s", f.Kind)
	}
	if f := Classify(errors.New("dial tcp: connection refused")); f.Kind != KindTransient {
		t.Errorf("connection refused classified as %s", f.Kind)
	}
}

func TestClassifyPreservesFault(t *testing.T) {
	orig := New(KindConsistencyConflict, "lock lost")
	wrapped := fmt.Errorf("processing: %w", orig)
	if f := Classify(wrapped); f.Kind != KindConsistencyConflict {
		t.Errorf("wrapped fault reclassified as %s", f.Kind)
	}
	if KindOf(wrapped) != KindConsistencyConflict {
		t.Error("KindOf lost the classification through wrapping")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(100, 1000, 2.0, 0)

	if d := b.Delay(0); d != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v, want 100ms", d)
	}
	if d := b.Delay(2); d != 400*time.Millisecond {
		t.Errorf("attempt 2 delay = %v, want 400ms", d)
	}
	if d := b.Delay(10); d != time.Second {
		t.Errorf("attempt 10 delay = %v, want capped at 1s", d)
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := NewBackoff(1000, 30000, 2.0, 20)
	for i := 0; i < 100; i++ {
		d := b.Delay(0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 1s", d)
		}
	}
}
