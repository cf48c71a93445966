// Package daemon keeps a device in sync while it runs in the background.
//
// The daemon:
//  1. Reconciles local and cloud state with a smart merge on startup when
//     signed in
//  2. Watches the session file and runs a smart merge whenever a user
//     signs in
//  3. Periodically pushes local state to the cloud
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	fsync "github.com/Mschirtzinger/fundsync/internal/sync"
)

// DefaultSyncInterval is how often local state is pushed to the cloud.
const DefaultSyncInterval = 5 * time.Minute

// Syncer runs full sync passes.
type Syncer interface {
	SyncToCloud(ctx context.Context) (bool, error)
	SmartMerge(ctx context.Context) (fsync.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to push local state to the cloud
	SyncInterval time.Duration

	// DebounceInterval is how long the session file must be quiet before
	// a change is acted on
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     DefaultSyncInterval,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync passes for one device.
type Daemon struct {
	syncer  Syncer
	session auth.Source
	config  *Config

	watcher *SessionWatcher

	stateMu   sync.Mutex
	userID    string // signed-in user as of the last check, "" if none
	pendingAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - syncer: the orchestrator running full passes
//   - session: the source of the signed-in session
//   - sessionPath: the session file to watch for sign-in and sign-out
//
// Use Start() to begin watching and syncing.
func New(syncer Syncer, session auth.Source, sessionPath string) (*Daemon, error) {
	return NewWithConfig(syncer, session, sessionPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, session auth.Source, sessionPath string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	if sessionPath == "" {
		return nil, fmt.Errorf("sessionPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewSessionWatcher(sessionPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:  syncer,
		session: session,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Run a smart merge if a user is already signed in
//  2. Start watching the session file
//  3. Push to the cloud every SyncInterval
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start session watcher: %w", err)
	}

	d.checkSession()

	d.config.Logger.Printf("Watching session: %s (push every %s)", d.watcher.path, d.config.SyncInterval)

	d.wg.Add(3)
	go d.watchSessionEvents()
	go d.processPendingChange()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// PushNow runs one push pass immediately. It is a no-op when signed out.
func (d *Daemon) PushNow(ctx context.Context) {
	if _, ok := d.session.Current(); !ok {
		return
	}
	ok, err := d.syncer.SyncToCloud(ctx)
	switch {
	case errors.Is(err, fsync.ErrBusy):
		d.config.Logger.Println("Push skipped: another sync is in progress")
	case errors.Is(err, fsync.ErrUnauthenticated):
	case err != nil:
		d.config.Logger.Printf("Push failed: %v", err)
	case !ok:
		d.config.Logger.Println("Push completed with missing keys")
	}
}

// checkSession compares the current session with the last one seen and
// runs a smart merge on sign-in or account switch.
func (d *Daemon) checkSession() {
	s, ok := d.session.Current()
	userID := ""
	if ok {
		userID = s.UserID
	}

	d.stateMu.Lock()
	previous := d.userID
	d.userID = userID
	d.stateMu.Unlock()

	switch {
	case userID == previous:
		return
	case userID == "":
		d.config.Logger.Printf("Signed out (was %s)", previous)
		return
	}

	d.config.Logger.Printf("Signed in as %s, merging local state", userID)
	report, err := d.syncer.SmartMerge(d.ctx)
	if err != nil {
		d.config.Logger.Printf("Smart merge failed: %v", err)
		return
	}
	if !report.OK() {
		d.config.Logger.Printf("Smart merge left %d keys unreconciled: %v", len(report.Failed), report.Failed)
	}
}

// UserID returns the signed-in user as last observed by the daemon.
func (d *Daemon) UserID() string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.userID
}

// watchSessionEvents records session file changes for debounced handling.
func (d *Daemon) watchSessionEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Session event: %s %s", event.Op, event.Path)
			d.stateMu.Lock()
			d.pendingAt = time.Now()
			d.stateMu.Unlock()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processPendingChange acts on a session change once the file has been
// quiet for DebounceInterval.
func (d *Daemon) processPendingChange() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case now := <-ticker.C:
			d.stateMu.Lock()
			ready := !d.pendingAt.IsZero() && now.Sub(d.pendingAt) >= d.config.DebounceInterval
			if ready {
				d.pendingAt = time.Time{}
			}
			d.stateMu.Unlock()

			if ready {
				d.checkSession()
			}
		}
	}
}

// periodicSync pushes local state every SyncInterval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.PushNow(d.ctx)
		}
	}
}
