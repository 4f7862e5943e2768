package store

import "sync"

// Memory is an in-process Store. It backs tests and short-lived tools that
// do not need the session to survive a restart.
type Memory struct {
	prefix string

	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store namespaced by prefix.
func NewMemory(prefix string) *Memory {
	return &Memory{
		prefix: prefix,
		values: make(map[string]string),
	}
}

func (m *Memory) key(field Field) string {
	return m.prefix + "_" + string(field)
}

func (m *Memory) Get(field Field) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[m.key(field)]
}

func (m *Memory) Set(field Field, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[m.key(field)] = value
}

// Clear removes every session field under this prefix in one critical
// section, so readers never observe a partially cleared record.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, field := range Fields {
		delete(m.values, m.key(field))
	}
}

func (m *Memory) Close() error { return nil }
