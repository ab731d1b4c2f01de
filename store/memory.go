package store

import (
	"encoding/json"
	"sync"
)

// Memory is a map-backed Store. It keeps marshaled JSON so reads behave
// exactly like the file-backed implementation.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(scope Scope, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[scope.Key(key)]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Memory) Set(scope Scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[scope.Key(key)] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(scope Scope, key string) error {
	m.mu.Lock()
	delete(m.data, scope.Key(key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
