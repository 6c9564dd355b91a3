package database

import (
	"context"
	"testing"
	"time"
)

func newTestEventLog(t *testing.T) *EventLog {
	t.Helper()
	e, err := NewEventLog(":memory:")
	if err != nil {
		t.Fatalf("NewEventLog: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEventLogRecordsOracleCalls(t *testing.T) {
	e := newTestEventLog(t)
	ctx := context.Background()

	if err := e.RecordOracleCall(ctx, "conv-1", "gpt-4o-mini", 120, 35, 1, 0.004, true, ""); err != nil {
		t.Fatalf("RecordOracleCall: %v", err)
	}
	// Failed attempts are recorded too, with their error kind.
	if err := e.RecordOracleCall(ctx, "conv-1", "gpt-4o-mini", 80, 0, 3, 0.002, false, "contract_violation"); err != nil {
		t.Fatalf("RecordOracleCall (failed): %v", err)
	}

	prompt, completion, cost, err := e.UsageSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageSince: %v", err)
	}
	if prompt != 200 || completion != 35 {
		t.Errorf("usage = %d/%d tokens, want 200/35", prompt, completion)
	}
	if cost < 0.0059 || cost > 0.0061 {
		t.Errorf("cost = %f, want ~0.006", cost)
	}
}

func TestEventLogCountsEvents(t *testing.T) {
	e := newTestEventLog(t)
	ctx := context.Background()

	for _, event := range []string{"lead_created", "qualified", "qualified", "interview_booked"} {
		if err := e.RecordEvent(ctx, "conv-2", event, ""); err != nil {
			t.Fatalf("RecordEvent(%s): %v", event, err)
		}
	}

	counts, err := e.EventCounts(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("EventCounts: %v", err)
	}
	if counts["qualified"] != 2 {
		t.Errorf("qualified count = %d, want 2", counts["qualified"])
	}
	if counts["interview_booked"] != 1 {
		t.Errorf("interview_booked count = %d, want 1", counts["interview_booked"])
	}
}
