package coordination

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// memoryCommander is an in-memory Commander with real TTL semantics. Each
// command runs under one mutex, which mirrors the single-threaded atomicity
// Redis gives scripts and lets the tests hammer the primitives from many
// goroutines.
type memoryCommander struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func newMemoryCommander() *memoryCommander {
	return &memoryCommander{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

// advance shifts the fake clock, simulating TTL expiry without sleeping.
func (m *memoryCommander) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.now
	m.now = func() time.Time { return base().Add(d) }
}

func (m *memoryCommander) live(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *memoryCommander) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return true, nil
}

func (m *memoryCommander) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *memoryCommander) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *memoryCommander) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryCommander) intAt(key string) int64 {
	e, ok := m.live(key)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	return n
}

func (m *memoryCommander) setInt(key string, n int64, keepExpiry bool) {
	e := m.data[key]
	if !keepExpiry {
		e.expiresAt = time.Time{}
	}
	e.value = strconv.FormatInt(n, 10)
	m.data[key] = e
}

// Eval emulates exactly the scripts the primitives use.
func (m *memoryCommander) Eval(_ context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keys[0]
	switch script {
	case releaseScript:
		e, ok := m.live(key)
		if ok && e.value == args[0].(string) {
			delete(m.data, key)
			return int64(1), nil
		}
		return int64(0), nil

	case enterScript:
		limit := int64(toInt(args[0]))
		ttl := time.Duration(toInt(args[1])) * time.Second
		current := m.intAt(key)
		if current < limit {
			m.setInt(key, current+1, true)
			e := m.data[key]
			e.expiresAt = m.now().Add(ttl)
			m.data[key] = e
			return int64(-1), nil
		}
		return current, nil

	case exitScript:
		current := m.intAt(key)
		if current > 0 {
			m.setInt(key, current-1, true)
			return int64(1), nil
		}
		return int64(0), nil

	case spendScript:
		current := m.intAt(key)
		if current > 0 {
			m.setInt(key, current-1, true)
			return current - 1, nil
		}
		return int64(-1), nil

	case "return redis.call('incr', KEYS[1])":
		n := m.intAt(key) + 1
		m.setInt(key, n, true)
		return n, nil
	}
	panic("memoryCommander: unknown script")
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
