package coordination

import (
	"context"
	"fmt"
	"log"
	"time"
)

// enterScript admits the caller if the counter is below the limit. The TTL is
// refreshed on every successful entry so an abandoned counter eventually
// resets instead of wedging the gate forever.
const enterScript = `
local current = redis.call('get', KEYS[1])
if current == false then current = 0 else current = tonumber(current) end
if current < tonumber(ARGV[1]) then
	redis.call('incr', KEYS[1])
	redis.call('expire', KEYS[1], ARGV[2])
	return -1
end
return current
`

// exitScript decrements but never below zero, making double-release a no-op.
const exitScript = `
local current = redis.call('get', KEYS[1])
if current and tonumber(current) > 0 then
	redis.call('decr', KEYS[1])
	return 1
end
return 0
`

// Semaphore bounds the number of simultaneous holders of a named resource
// across all worker processes. Callers poll at a fixed interval when the gate
// is full rather than blocking inside Redis.
type Semaphore struct {
	cmd          Commander
	name         string
	limit        int
	ttl          time.Duration
	pollInterval time.Duration
	warnAfter    time.Duration
}

// NewSemaphore creates a named gate with the given concurrent-holder limit.
func NewSemaphore(cmd Commander, name string, limit int, ttl time.Duration) *Semaphore {
	return &Semaphore{
		cmd:          cmd,
		name:         "semaphore:" + name,
		limit:        limit,
		ttl:          ttl,
		pollInterval: 100 * time.Millisecond,
		warnAfter:    10 * time.Second,
	}
}

// Enter blocks (by polling) until a slot is free or ctx is done.
func (s *Semaphore) Enter(ctx context.Context) error {
	start := time.Now()
	warned := false
	for {
		res, err := s.cmd.Eval(ctx, enterScript, []string{s.name},
			s.limit, int(s.ttl.Seconds()))
		if err != nil {
			return fmt.Errorf("semaphore %s enter: %w", s.name, err)
		}
		occupancy, _ := res.(int64)
		if occupancy == -1 {
			return nil
		}

		if !warned && time.Since(start) > s.warnAfter {
			log.Printf("⏳ [SEMAPHORE] %s is full (%d/%d), waited %s",
				s.name, occupancy, s.limit, time.Since(start).Round(time.Second))
			warned = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// TryEnter attempts a single admission without polling. Returns the current
// occupancy when the gate is full.
func (s *Semaphore) TryEnter(ctx context.Context) (bool, int64, error) {
	res, err := s.cmd.Eval(ctx, enterScript, []string{s.name},
		s.limit, int(s.ttl.Seconds()))
	if err != nil {
		return false, 0, fmt.Errorf("semaphore %s enter: %w", s.name, err)
	}
	occupancy, _ := res.(int64)
	if occupancy == -1 {
		return true, 0, nil
	}
	return false, occupancy, nil
}

// Exit releases one slot. Safe to call more than once; the counter never goes
// negative. Call from a defer so exceptions still release.
func (s *Semaphore) Exit(ctx context.Context) {
	if _, err := s.cmd.Eval(ctx, exitScript, []string{s.name}); err != nil {
		log.Printf("⚠️ [SEMAPHORE] %s exit failed: %v", s.name, err)
	}
}

// Occupancy returns the current holder count.
func (s *Semaphore) Occupancy(ctx context.Context) (int64, error) {
	val, exists, err := s.cmd.Get(ctx, s.name)
	if err != nil || !exists {
		return 0, err
	}
	var n int64
	_, err = fmt.Sscan(val, &n)
	return n, err
}
