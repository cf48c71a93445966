package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sourcegraph/conc"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	"github.com/Mschirtzinger/fundsync/internal/keys"
	"github.com/Mschirtzinger/fundsync/internal/status"
	"github.com/Mschirtzinger/fundsync/internal/store/local"
	"github.com/Mschirtzinger/fundsync/internal/store/remote"
)

// TestConcurrentPassesAndSaves hammers one orchestrator over a real sqlite
// store with interleaved saves and full passes from many goroutines.
func TestConcurrentPassesAndSaves(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrency test in short mode")
	}

	quiet := log.New(io.Discard, "", 0)
	store, err := local.Open(filepath.Join(t.TempDir(), "fundsync.db"), quiet)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	cloud := remote.NewMemory()
	orch := New(store, cloud.As(auth.NewStatic("u1")), WithLogger(quiet))

	// Bus events are published from the pass goroutine, so two passes
	// holding the guard at once would show up as nested Started events.
	var inPass, overlaps atomic.Int32
	orch.Bus().Subscribe(func(st status.Status) {
		if st.Syncing {
			if inPass.Add(1) > 1 {
				overlaps.Add(1)
			}
			return
		}
		inPass.Add(-1)
	})

	const (
		writers        = 8
		savesPerWriter = 25
		passers        = 4
		passesPerGo    = 10
	)

	var completed, busy atomic.Int32
	var wg conc.WaitGroup

	for w := 0; w < writers; w++ {
		w := w
		wg.Go(func() {
			for i := 0; i < savesPerWriter; i++ {
				code := fmt.Sprintf("%02d%04d", w, i)
				if !orch.Save(context.Background(), keys.CollapsedCodes, []string{code}) {
					t.Errorf("writer %d: save %d failed", w, i)
				}
			}
		})
	}

	for p := 0; p < passers; p++ {
		p := p
		wg.Go(func() {
			for i := 0; i < passesPerGo; i++ {
				var err error
				if (p+i)%2 == 0 {
					_, err = orch.SyncToCloud(context.Background())
				} else {
					_, err = orch.SmartMerge(context.Background())
				}

				switch {
				case err == nil:
					completed.Add(1)
				case errors.Is(err, ErrBusy):
					busy.Add(1)
				default:
					t.Errorf("passer %d: unexpected error: %v", p, err)
				}
			}
		})
	}

	wg.Wait()
	orch.Flush()

	if got := completed.Load() + busy.Load(); got != passers*passesPerGo {
		t.Errorf("expected %d pass outcomes, got %d", passers*passesPerGo, got)
	}
	if completed.Load() == 0 {
		t.Error("no pass completed")
	}
	if n := overlaps.Load(); n != 0 {
		t.Errorf("observed %d overlapping passes", n)
	}
	if orch.Running() {
		t.Error("guard still held after all passes returned")
	}

	final := keys.CodeSet(store.Load(keys.CollapsedCodes, nil))
	if len(final) == 0 {
		t.Fatal("collapsedCodes lost")
	}

	// Once the background writes drain, one more push leaves the cloud
	// holding exactly what the device holds.
	if _, err := orch.SyncToCloud(context.Background()); err != nil {
		t.Fatalf("final SyncToCloud failed: %v", err)
	}
	got, _ := cloud.Value("u1", keys.CollapsedCodes)
	if diff := cmp.Diff(final, keys.CodeSet(got)); diff != "" {
		t.Errorf("cloud diverged from device (-local +cloud):\n%s", diff)
	}
}
