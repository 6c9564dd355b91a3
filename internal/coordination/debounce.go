package coordination

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Debouncer collapses a burst of rapid inbound messages for one conversation
// into a single delayed engine pass. The first message in a burst plants a
// suppression marker and schedules the pass; followers see the marker and do
// nothing — the scheduled pass will pick up their turns from the store.
type Debouncer struct {
	cmd    Commander
	window time.Duration
}

// NewDebouncer creates a debouncer with the configured window.
func NewDebouncer(cmd Commander, window time.Duration) *Debouncer {
	return &Debouncer{cmd: cmd, window: window}
}

func debounceKey(conversationID string) string {
	return "debounce:" + conversationID
}

// Schedule runs fire exactly once per burst, after the debounce window. Returns
// true when this call planted the marker (and owns the delayed pass).
// The marker's TTL is window plus slack so a crashed owner cannot suppress the
// conversation for long.
func (d *Debouncer) Schedule(ctx context.Context, conversationID string, fire func(context.Context) error) (bool, error) {
	planted, err := d.cmd.SetNX(ctx, debounceKey(conversationID), "1", d.window+5*time.Second)
	if err != nil {
		return false, fmt.Errorf("debounce %s: %w", conversationID, err)
	}
	if !planted {
		return false, nil
	}

	go func() {
		// Detached from the caller's context: the burst owner must still fire
		// after the triggering request finishes, and the marker must come down
		// either way or followers stay suppressed until the TTL expires.
		time.Sleep(d.window)
		fireCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fire(fireCtx); err != nil {
			log.Printf("💥 [DEBOUNCE] Delayed pass for %s failed: %v", conversationID, err)
		}
		if err := d.cmd.Del(fireCtx, debounceKey(conversationID)); err != nil {
			log.Printf("⚠️ [DEBOUNCE] Marker cleanup for %s failed: %v", conversationID, err)
		}
	}()
	return true, nil
}
