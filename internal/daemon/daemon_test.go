package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	"github.com/Mschirtzinger/fundsync/internal/keys"
	fsync "github.com/Mschirtzinger/fundsync/internal/sync"
)

// fakeSyncer counts passes and signals each smart merge.
type fakeSyncer struct {
	pushes  atomic.Int32
	merges  atomic.Int32
	merged  chan struct{}
	pushErr error
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{merged: make(chan struct{}, 16)}
}

func (f *fakeSyncer) SyncToCloud(ctx context.Context) (bool, error) {
	f.pushes.Add(1)
	return f.pushErr == nil, f.pushErr
}

func (f *fakeSyncer) SmartMerge(ctx context.Context) (fsync.Report, error) {
	f.merges.Add(1)
	f.merged <- struct{}{}
	return fsync.Report{Merged: []keys.Key{keys.Favorites}}, nil
}

func testConfig() *Config {
	return &Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// startDaemon runs d until the test ends.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func waitMerge(t *testing.T, f *fakeSyncer) {
	t.Helper()
	select {
	case <-f.merged:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for smart merge")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	session := auth.NewStatic("u1")

	tests := []struct {
		name    string
		syncer  Syncer
		session auth.Source
		path    string
		wantErr bool
	}{
		{name: "valid configuration", syncer: newFakeSyncer(), session: session, path: sessionPath},
		{name: "nil syncer", syncer: nil, session: session, path: sessionPath, wantErr: true},
		{name: "nil session", syncer: newFakeSyncer(), session: nil, path: sessionPath, wantErr: true},
		{name: "empty session path", syncer: newFakeSyncer(), session: session, path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewWithConfig(tt.syncer, tt.session, tt.path, testConfig())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if d != nil {
				defer d.Stop()
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("expected 5m sync interval, got %s", cfg.SyncInterval)
	}
	if cfg.Logger == nil {
		t.Error("expected default logger")
	}
}

func TestStartupMergeWhenSignedIn(t *testing.T) {
	dir := t.TempDir()
	store := auth.NewFileStore(filepath.Join(dir, "session.json"))
	if err := store.Save(auth.Session{AccessToken: "t", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, store, store.Path(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	waitMerge(t, syncer)
	if d.UserID() != "u1" {
		t.Errorf("expected user u1, got %q", d.UserID())
	}
}

func TestSignInTriggersMerge(t *testing.T) {
	dir := t.TempDir()
	store := auth.NewFileStore(filepath.Join(dir, "session.json"))

	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, store, store.Path(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	waitFor(t, "watcher", d.watcher.IsRunning)
	if n := syncer.merges.Load(); n != 0 {
		t.Fatalf("expected no merge while signed out, got %d", n)
	}

	if err := store.Save(auth.Session{AccessToken: "t", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	waitMerge(t, syncer)

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sign-out", func() bool { return d.UserID() == "" })

	if err := store.Save(auth.Session{AccessToken: "t2", UserID: "u2"}); err != nil {
		t.Fatal(err)
	}
	waitMerge(t, syncer)
	if n := syncer.merges.Load(); n != 2 {
		t.Errorf("expected 2 merges, got %d", n)
	}
}

func TestTokenRefreshDoesNotMerge(t *testing.T) {
	dir := t.TempDir()
	store := auth.NewFileStore(filepath.Join(dir, "session.json"))
	if err := store.Save(auth.Session{AccessToken: "t", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, store, store.Path(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)
	waitMerge(t, syncer)

	if err := store.Save(auth.Session{AccessToken: "refreshed", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if n := syncer.merges.Load(); n != 1 {
		t.Errorf("expected a single merge, got %d", n)
	}
}

func TestPeriodicPush(t *testing.T) {
	cfg := testConfig()
	cfg.SyncInterval = 10 * time.Millisecond

	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, auth.NewStatic("u1"), filepath.Join(t.TempDir(), "session.json"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	waitFor(t, "two pushes", func() bool { return syncer.pushes.Load() >= 2 })
}

func TestPeriodicPushSkippedWhenSignedOut(t *testing.T) {
	cfg := testConfig()
	cfg.SyncInterval = 10 * time.Millisecond

	session := auth.NewStatic("u1")
	session.SignOut()
	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, session, filepath.Join(t.TempDir(), "session.json"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	time.Sleep(80 * time.Millisecond)
	if n := syncer.pushes.Load(); n != 0 {
		t.Errorf("expected no pushes while signed out, got %d", n)
	}
}

func TestPushNowToleratesBusy(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.pushErr = fsync.ErrBusy
	d, err := NewWithConfig(syncer, auth.NewStatic("u1"), filepath.Join(t.TempDir(), "session.json"), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	d.PushNow(context.Background())
	if n := syncer.pushes.Load(); n != 1 {
		t.Errorf("expected one push attempt, got %d", n)
	}

	syncer.pushErr = errors.New("offline")
	d.PushNow(context.Background())
	if n := syncer.pushes.Load(); n != 2 {
		t.Errorf("expected a second push attempt, got %d", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d, err := NewWithConfig(newFakeSyncer(), auth.NewStatic("u1"), filepath.Join(t.TempDir(), "session.json"), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
