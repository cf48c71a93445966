package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of change to the session file.
type EventOp int

const (
	// OpWrite indicates the session file was created or replaced.
	OpWrite EventOp = iota
	// OpRemove indicates the session file was deleted.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// SessionEvent is emitted when the session file changes on disk.
type SessionEvent struct {
	Path string
	Op   EventOp
}

// SessionWatcher watches a single session file for changes.
//
// The parent directory is watched rather than the file itself: sessions are
// written to a temp file and renamed into place, which replaces the inode a
// direct file watch would be attached to.
type SessionWatcher struct {
	watcher *fsnotify.Watcher
	events  chan SessionEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string
}

// NewSessionWatcher creates a watcher for the session file at path.
// The watcher must be started with Start() before it will emit events.
func NewSessionWatcher(path string) (*SessionWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &SessionWatcher{
		watcher: watcher,
		events:  make(chan SessionEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
		path:    abs,
	}, nil
}

// Start begins watching. The session directory is created if missing so a
// first sign-in is observed.
func (sw *SessionWatcher) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(sw.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels.
// It blocks until the event processing goroutine has exited.
func (sw *SessionWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return sw.watcher.Close()
	}
	sw.running = false
	sw.mu.Unlock()

	close(sw.done)

	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	sw.wg.Wait()

	close(sw.events)
	close(sw.errors)

	return nil
}

// Events returns the channel of session file changes.
// This channel is closed when the watcher is stopped.
func (sw *SessionWatcher) Events() <-chan SessionEvent {
	return sw.events
}

// Errors returns the channel of watcher errors.
// This channel is closed when the watcher is stopped.
func (sw *SessionWatcher) Errors() <-chan error {
	return sw.errors
}

// IsRunning returns true if the watcher is currently running.
func (sw *SessionWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}

func (sw *SessionWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			if ev, ok := sw.convertEvent(event); ok {
				select {
				case sw.events <- ev:
				case <-sw.done:
					return
				}
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on the session file to a
// SessionEvent. Events on sibling files are ignored.
func (sw *SessionWatcher) convertEvent(event fsnotify.Event) (SessionEvent, bool) {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != sw.path {
		return SessionEvent{}, false
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return SessionEvent{Path: name, Op: OpWrite}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return SessionEvent{Path: name, Op: OpRemove}, true
	default:
		return SessionEvent{}, false
	}
}
