package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs tests and standalone runs
// where no Redis is configured; contents do not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		now:  time.Now,
	}
}

// SetClock overrides the store clock, for tests.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) Get(_ context.Context, path string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrStorage, path, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, path string, value any) error {
	raw, err := encode(value, m.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, path, err)
	}
	m.mu.Lock()
	m.data[path] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, path string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]any)
	if raw, ok := m.data[path]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrStorage, path, err)
		}
	}
	for k, v := range partial {
		current[k] = v
	}
	raw, err := encode(current, m.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStorage, path, err)
	}
	m.data[path] = raw
	return nil
}

func (m *MemoryStore) List(_ context.Context, path string) (map[string]json.RawMessage, error) {
	prefix := path + "/"
	out := make(map[string]json.RawMessage)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, raw := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		child := strings.TrimPrefix(k, prefix)
		if strings.Contains(child, "/") {
			continue
		}
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out[child] = cp
	}
	return out, nil
}
