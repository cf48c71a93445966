package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	"github.com/Mschirtzinger/fundsync/internal/status"
	"github.com/Mschirtzinger/fundsync/internal/store/local"
	"github.com/Mschirtzinger/fundsync/internal/store/remote"
	fsync "github.com/Mschirtzinger/fundsync/internal/sync"
)

// app bundles the stores and orchestrator a command works with.
type app struct {
	store   *local.Store
	session *auth.FileStore
	remote  *remote.Client
	orch    *fsync.Orchestrator
}

// openApp opens the local database and wires the orchestrator. It exits
// the process on failure, like every command's setup path.
func openApp() *app {
	store, err := local.Open(cfg.DBPath(), newLogger("local"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local database: %v\n", err)
		os.Exit(1)
	}

	session := auth.NewFileStore(cfg.SessionPath())
	client := remote.New(cfg.RemoteClientConfig(), session, newLogger("remote"))

	bus := status.NewBus(newLogger("status"))
	statusPath := lastStatusPath()
	bus.Subscribe(func(st status.Status) {
		if st.Syncing {
			return
		}
		if st.LastSyncTime == nil {
			if prev, ok := loadLastStatus(statusPath); ok {
				st.LastSyncTime = prev.LastSyncTime
			}
		}
		if err := saveLastStatus(statusPath, st); err != nil {
			newLogger("status").Printf("Warning: %v", err)
		}
	})

	orch := fsync.New(store, client,
		fsync.WithLogger(newLogger("sync")),
		fsync.WithBus(bus),
	)

	return &app{store: store, session: session, remote: client, orch: orch}
}

// Close waits for queued cloud writes, then closes the database.
func (a *app) Close() {
	a.orch.Flush()
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
	}
}

// requireRemote exits when no remote store is configured.
func (a *app) requireRemote() {
	if !cfg.RemoteClientConfig().Configured() {
		fmt.Fprintf(os.Stderr, "Error: cloud sync is not configured\n")
		fmt.Fprintf(os.Stderr, "Set remote.url and remote.anon-key in %s or FUNDSYNC_REMOTE_URL and FUNDSYNC_REMOTE_ANON_KEY\n",
			filepath.Join(cfg.DataDir, "config.yaml"))
		os.Exit(1)
	}
}

func lastStatusPath() string {
	return filepath.Join(cfg.DataDir, "last_sync.json")
}

// saveLastStatus records the outcome of the last full pass so later
// invocations can report it.
func saveLastStatus(path string, st status.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode sync status: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sync status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace sync status: %w", err)
	}
	return nil
}

// loadLastStatus reads the status saved by saveLastStatus.
func loadLastStatus(path string) (status.Status, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return status.Status{}, false
	}
	var st status.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return status.Status{}, false
	}
	return st, true
}
