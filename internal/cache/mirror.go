package cache

import (
	"encoding/json"
	"sync"
)

// Mirror is the local key/value cache. Values are JSON encoded, nothing
// expires, and a missing key is reported as found == false with a nil error.
type Mirror interface {
	Get(key string, dst any) (bool, error)
	Set(key string, value any) error
	Remove(key string) error
}

type memoryMirror struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryMirror returns a process-local mirror.
func NewMemoryMirror() Mirror {
	return &memoryMirror{data: make(map[string][]byte)}
}

func (m *memoryMirror) Get(key string, dst any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memoryMirror) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryMirror) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
