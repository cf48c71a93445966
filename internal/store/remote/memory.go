package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	"github.com/Mschirtzinger/fundsync/internal/keys"
)

// Memory is an in-process remote store shared by any number of simulated
// devices. Each device gets its own view through As, bound to a session
// source, so tests can model several devices signed in to one account.
type Memory struct {
	mu      sync.Mutex
	records map[string]map[keys.Key]memoryRecord
	now     func() time.Time

	// Hooks run before the corresponding operation; a non-nil error is
	// returned to the caller instead of touching the records. Tests use
	// them to inject failures and to block mid-pass.
	BeforeGet    func(key keys.Key) error
	BeforeUpsert func(key keys.Key) error
}

type memoryRecord struct {
	value     string
	updatedAt time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[keys.Key]memoryRecord),
		now:     time.Now,
	}
}

// As returns a device view acting for whoever session reports.
func (m *Memory) As(session auth.Source) *MemoryClient {
	return &MemoryClient{store: m, session: session}
}

// Value returns the decoded record for (userID, key).
func (m *Memory) Value(userID string, key keys.Key) (any, bool) {
	m.mu.Lock()
	rec, ok := m.records[userID][key]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(rec.value), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Raw returns the stored JSON text for (userID, key).
func (m *Memory) Raw(userID string, key keys.Key) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID][key]
	return rec.value, ok
}

// Put stores a record directly, bypassing sessions.
func (m *Memory) Put(userID string, key keys.Key, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[userID] == nil {
		m.records[userID] = make(map[keys.Key]memoryRecord)
	}
	m.records[userID][key] = memoryRecord{value: string(data), updatedAt: m.now()}
	return nil
}

// MemoryClient is one device's view of a Memory store.
type MemoryClient struct {
	store   *Memory
	session auth.Source
}

// UserID returns the signed-in user's id.
func (c *MemoryClient) UserID(ctx context.Context) (string, bool) {
	s, ok := c.session.Current()
	return s.UserID, ok
}

// IsAuthenticated reports whether a session is active.
func (c *MemoryClient) IsAuthenticated(ctx context.Context) bool {
	_, ok := c.session.Current()
	return ok
}

// Get returns the value for key, ErrNotFound, or an injected failure.
func (c *MemoryClient) Get(ctx context.Context, key keys.Key) (any, error) {
	userID, ok := c.UserID(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	if hook := c.store.BeforeGet; hook != nil {
		if err := hook(key); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := c.store.Value(userID, key)
	if !ok || v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// Upsert replaces the record for key.
func (c *MemoryClient) Upsert(ctx context.Context, key keys.Key, value any) error {
	userID, ok := c.UserID(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if hook := c.store.BeforeUpsert; hook != nil {
		if err := hook(key); err != nil {
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.store.Put(userID, key, value)
}
