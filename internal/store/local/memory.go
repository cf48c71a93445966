package local

import (
	"log"
	"os"
	"sync"

	"github.com/Mschirtzinger/fundsync/internal/keys"
)

// Memory is an in-process store with the same read/write semantics as
// Store, for tests and callers that need no persistence.
type Memory struct {
	mu     sync.RWMutex
	data   map[keys.Key]string
	logger *log.Logger
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		data:   make(map[keys.Key]string),
		logger: log.New(os.Stderr, "[local] ", log.LstdFlags),
	}
}

// Load returns the value stored under key, or def when there is none.
func (m *Memory) Load(key keys.Key, def any) any {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return def
	}
	return decodeValue(raw)
}

// Save stores value under key.
func (m *Memory) Save(key keys.Key, value any) bool {
	raw, err := encodeValue(value)
	if err != nil {
		m.logger.Printf("Failed to save %s: %v", key, err)
		return false
	}
	m.SaveRaw(key, raw)
	return true
}

// SaveRaw stores pre-encoded text under key.
func (m *Memory) SaveRaw(key keys.Key, raw string) {
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
}

// Raw returns the stored text for key.
func (m *Memory) Raw(key keys.Key) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[key]
	return raw, ok
}
