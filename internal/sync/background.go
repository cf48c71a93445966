package sync

import (
	"log"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Background runs detached tasks whose results no caller observes.
//
// Failures and panics are logged here, in one place, instead of being lost
// in an unobserved goroutine. Wait blocks until every task started so far
// has finished; callers use it before exit so queued cloud writes are not
// cut off.
type Background struct {
	wg     conc.WaitGroup
	logger *log.Logger
}

// NewBackground creates a task runner logging to logger.
func NewBackground(logger *log.Logger) *Background {
	return &Background{logger: logger}
}

// Go starts fn in its own goroutine. name identifies the task in logs.
func (b *Background) Go(name string, fn func() error) {
	b.wg.Go(func() {
		var pc panics.Catcher
		pc.Try(func() {
			if err := fn(); err != nil {
				b.logger.Printf("Background %s failed: %v", name, err)
			}
		})
		if r := pc.Recovered(); r != nil {
			b.logger.Printf("Background %s panicked: %v", name, r.Value)
		}
	})
}

// Wait blocks until all started tasks have returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
