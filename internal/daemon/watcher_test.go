package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, path string) *SessionWatcher {
	t.Helper()

	sw, err := NewSessionWatcher(path)
	if err != nil {
		t.Fatalf("NewSessionWatcher failed: %v", err)
	}
	if err := sw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := sw.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return sw
}

func nextEvent(t *testing.T, sw *SessionWatcher) SessionEvent {
	t.Helper()
	select {
	case ev := <-sw.Events():
		return ev
	case err := <-sw.Errors():
		t.Fatalf("watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return SessionEvent{}
}

func TestSessionWatcherWriteAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	sw := startWatcher(t, path)

	if err := os.WriteFile(path, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, sw); ev.Op != OpWrite || ev.Path != path {
		t.Errorf("expected write of %s, got %+v", path, ev)
	}

	// Drain any trailing write events from the same WriteFile.
	drain(sw)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if ev := nextEvent(t, sw); ev.Op != OpRemove {
		t.Errorf("expected remove, got %+v", ev)
	}
}

func TestSessionWatcherRenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	sw := startWatcher(t, path)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	if ev := nextEvent(t, sw); ev.Op != OpWrite {
		t.Errorf("expected write after rename, got %+v", ev)
	}
}

func TestSessionWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	sw := startWatcher(t, filepath.Join(dir, "session.json"))

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-sw.Events():
		t.Errorf("unexpected event for sibling file: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionWatcherCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "fundsync")
	sw := startWatcher(t, filepath.Join(dir, "session.json"))

	if !sw.IsRunning() {
		t.Error("expected watcher to be running")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("session directory not created: %v", err)
	}
}

func TestSessionWatcherDoubleStart(t *testing.T) {
	sw := startWatcher(t, filepath.Join(t.TempDir(), "session.json"))
	if err := sw.Start(); err == nil {
		t.Error("expected error starting twice")
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpWrite, "write"},
		{OpRemove, "remove"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func drain(sw *SessionWatcher) {
	for {
		select {
		case <-sw.Events():
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}
