package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory keeps everything in a map. maxBytes > 0 caps the summed length of
// keys and values, the way a browser caps localStorage.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	used     int64
	maxBytes int64
}

func NewMemory(maxBytes int64) *Memory {
	return &Memory{data: map[string]string{}, maxBytes: maxBytes}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keysLocked(prefix), nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked([]op{{key: key, value: value}})
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked([]op{{key: key, delete: true}})
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newOverlay(lockedMemory{m})
	if err := fn(tx); err != nil {
		return err
	}
	return m.commitLocked(tx.ops)
}

func (m *Memory) Close() error {
	return nil
}

// Used reports the bytes currently held.
func (m *Memory) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) keysLocked(prefix string) []string {
	keys := []string{}
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// commitLocked applies ops all-or-nothing against the quota.
func (m *Memory) commitLocked(ops []op) error {
	final := map[string]op{}
	for _, p := range ops {
		final[p.key] = p
	}
	used := m.used
	for key, p := range final {
		if old, ok := m.data[key]; ok {
			used -= entrySize(key, old)
		}
		if !p.delete {
			used += entrySize(key, p.value)
		}
	}
	if m.maxBytes > 0 && used > m.maxBytes {
		return ErrQuotaExceeded
	}
	for key, p := range final {
		if p.delete {
			delete(m.data, key)
			continue
		}
		m.data[key] = p.value
	}
	m.used = used
	return nil
}

// lockedMemory reads without locking; Update already holds m.mu.
type lockedMemory struct {
	m *Memory
}

func (l lockedMemory) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := l.m.data[key]
	return value, ok, nil
}

func (l lockedMemory) Keys(_ context.Context, prefix string) ([]string, error) {
	return l.m.keysLocked(prefix), nil
}
