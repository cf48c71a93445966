// Package status carries sync state changes to interested observers.
//
// The Bus fans each published Status out to every subscriber synchronously,
// in subscription order. A subscriber that panics is logged and skipped;
// the remaining subscribers still receive the update. Nothing is retained:
// subscribers only see publications made after they subscribe.
package status

import (
	"log"
	"os"
	"sync"
	"time"
)

// Status is the sync state broadcast to observers.
type Status struct {
	Syncing      bool       `json:"syncing"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	Error        string     `json:"error,omitempty"`
	Success      *bool      `json:"success,omitempty"`
}

// Started returns the status published when a pass begins.
func Started() Status {
	return Status{Syncing: true}
}

// Finished returns the status published when a pass completes.
func Finished(at time.Time, success bool) Status {
	return Status{LastSyncTime: &at, Success: &success}
}

// Failed returns the status published when a pass aborts. last is the
// previous successful sync time, if any.
func Failed(last *time.Time, err error) Status {
	return Status{LastSyncTime: last, Error: err.Error()}
}

// Subscriber receives status updates.
type Subscriber func(Status)

type subscription struct {
	id int
	fn Subscriber
}

// Bus is a synchronous publish/subscribe hub for Status values.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger *log.Logger
}

// NewBus creates a bus. If logger is nil, a default logger writing to
// stderr is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[status] ", log.LstdFlags)
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function may be called more than once.
func (b *Bus) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers st to every current subscriber and returns once all of
// them have been called.
func (b *Bus) Publish(st Status) {
	// Snapshot so subscribers may (un)subscribe from inside a callback.
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, st)
	}
}

func (b *Bus) deliver(s subscription, st Status) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Subscriber %d panicked: %v", s.id, r)
		}
	}()
	s.fn(st)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
