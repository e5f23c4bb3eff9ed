package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type entry struct {
	data    []byte
	expires time.Time // zero means no expiry
}

// Memory is an in-process Cache.  Values are stored JSON-encoded so callers
// get the same copy semantics as with Redis.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]entry
	versions map[string]int64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), versions: make(map[string]int64), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dst any) error {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return ErrMiss
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return ErrMiss
	}
	return json.Unmarshal(e.data, dst)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	e, err := m.encode(value, ttl)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) encode(value any, ttl time.Duration) (entry, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return entry{}, err
	}
	e := entry{data: b}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	return e, nil
}

func (m *Memory) Version(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[key], nil
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	m.versions[key]++
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetIfVersion(_ context.Context, key string, version int64, value any, ttl time.Duration) (bool, error) {
	e, err := m.encode(value, ttl)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[key] != version {
		return false, nil
	}
	m.entries[key] = e
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Backend() string { return "memory" }

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
