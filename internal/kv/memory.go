package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is a map-backed Store for tests and ephemeral profiles.
type Memory struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if value, ok := m.data[key]; ok {
			out[key] = value
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, values map[string]any) error {
	raw, err := marshalValues(values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range raw {
		m.data[key] = value
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) GetAll(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.data))
	for key, value := range m.data {
		out[key] = value
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
