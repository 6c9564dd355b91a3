package coordination

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes the lock only if it is still held by this token, so a
// slow holder cannot release a lock that expired and was re-acquired.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// ConversationLock is the cross-process mutual exclusion for a single
// conversation. Acquisition is one atomic SET NX EX; there is no blocking
// variant — on contention the caller aborts and relies on queue redelivery.
type ConversationLock struct {
	cmd   Commander
	ttl   time.Duration
	token string // per-process holder identity
}

// NewConversationLock creates a lock manager. TTL must exceed the worst-case
// engine pass including a corrective replay; expiry-takeover is an accepted
// bounded risk.
func NewConversationLock(cmd Commander, ttl time.Duration) *ConversationLock {
	return &ConversationLock{
		cmd:   cmd,
		ttl:   ttl,
		token: uuid.New().String(),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to take exclusive ownership of key. Returns false
// immediately when another holder is active.
func (l *ConversationLock) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.cmd.SetNX(ctx, lockKey(key), l.token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release frees the lock if this process still holds it. Idempotent: releasing
// an expired or foreign lock is a no-op. Call from a defer.
func (l *ConversationLock) Release(ctx context.Context, key string) {
	if _, err := l.cmd.Eval(ctx, releaseScript, []string{lockKey(key)}, l.token); err != nil {
		log.Printf("⚠️ [LOCK] Release of %s failed: %v", key, err)
	}
}

// StillHeld reports whether this process still owns the lock. The engine
// checks this before persisting each state mutation, bounding the damage of a
// TTL takeover.
func (l *ConversationLock) StillHeld(ctx context.Context, key string) (bool, error) {
	val, exists, err := l.cmd.Get(ctx, lockKey(key))
	if err != nil {
		return false, fmt.Errorf("lock check %s: %w", key, err)
	}
	return exists && val == l.token, nil
}
