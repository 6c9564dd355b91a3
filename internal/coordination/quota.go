package coordination

import (
	"context"
	"fmt"
	"log"
)

// spendScript decrements only while the counter is positive and returns the
// new value, or -1 when the quota is exhausted. The counter can never go
// negative.
const spendScript = `
local current = tonumber(redis.call('get', KEYS[1]) or '0')
if current > 0 then
	return redis.call('decr', KEYS[1])
end
return -1
`

// QuotaLedger is atomic accounting for a metered, paid resource. Spend happens
// BEFORE the paid action; on observed downstream failure the caller refunds.
// The reverse order would risk a free action with no charge, which is the
// worse failure.
type QuotaLedger struct {
	cmd Commander
}

// NewQuotaLedger creates a ledger over the shared Redis.
func NewQuotaLedger(cmd Commander) *QuotaLedger {
	return &QuotaLedger{cmd: cmd}
}

func quotaKey(resourceID string) string {
	return "quota:" + resourceID
}

// InitIfAbsent seeds the counter for a resource without overwriting an
// existing balance.
func (q *QuotaLedger) InitIfAbsent(ctx context.Context, resourceID string, amount int64) error {
	_, err := q.cmd.SetNX(ctx, quotaKey(resourceID), fmt.Sprintf("%d", amount), 0)
	if err != nil {
		return fmt.Errorf("quota init %s: %w", resourceID, err)
	}
	return nil
}

// TrySpend atomically decrements the counter if it is positive. ok=false means
// exhausted: the caller must hard-stop, not retry.
func (q *QuotaLedger) TrySpend(ctx context.Context, resourceID string) (remaining int64, ok bool, err error) {
	res, err := q.cmd.Eval(ctx, spendScript, []string{quotaKey(resourceID)})
	if err != nil {
		return 0, false, fmt.Errorf("quota spend %s: %w", resourceID, err)
	}
	val, _ := res.(int64)
	if val < 0 {
		return 0, false, nil
	}
	return val, true, nil
}

// Refund compensates a spend whose paid action failed. Best-effort: a failed
// refund is logged, since a possible double refund beats a permanently lost
// unit of quota.
func (q *QuotaLedger) Refund(ctx context.Context, resourceID string) {
	if _, err := q.cmd.Eval(ctx, "return redis.call('incr', KEYS[1])", []string{quotaKey(resourceID)}); err != nil {
		log.Printf("🚨 [QUOTA] Refund for %s FAILED, one unit lost: %v", resourceID, err)
	}
}

// Remaining returns the current balance for a resource.
func (q *QuotaLedger) Remaining(ctx context.Context, resourceID string) (int64, error) {
	val, exists, err := q.cmd.Get(ctx, quotaKey(resourceID))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscan(val, &n); err != nil {
		return 0, fmt.Errorf("quota %s holds non-numeric value %q", resourceID, val)
	}
	return n, nil
}
