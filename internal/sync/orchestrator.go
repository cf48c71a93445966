package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mschirtzinger/fundsync/internal/keys"
	"github.com/Mschirtzinger/fundsync/internal/merge"
	"github.com/Mschirtzinger/fundsync/internal/status"
	"github.com/Mschirtzinger/fundsync/internal/store/remote"
)

const tracerName = "github.com/Mschirtzinger/fundsync/internal/sync"

// absent marks "no local value" so it can be told apart from any real
// default a caller passes in.
type absentMarker struct{}

var absent = &absentMarker{}

// Orchestrator drives reads, writes, and full sync passes between the
// local and remote stores.
//
// Reads and writes are local-first: Load answers from the device and lets
// the cloud enrich the answer when reachable; Save writes the device
// synchronously and trails the cloud write in the background.
//
// Full passes (SyncToCloud, SyncFromCloud, SmartMerge) are mutually
// exclusive: a pass requested while another runs returns ErrBusy. Load and
// Save are not blocked by a running pass; the storage layer's last write
// wins.
type Orchestrator struct {
	local  LocalStore
	remote RemoteStore
	keys   []keys.Key

	bus    *status.Bus
	bg     *Background
	logger *log.Logger
	tracer trace.Tracer
	now    func() time.Time

	running atomic.Bool

	mu       stdsync.Mutex
	lastSync *time.Time
	current  status.Status
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithBus publishes status changes on bus instead of a private one.
func WithBus(bus *status.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithKeys restricts full passes to the given keys, in order.
func WithKeys(ks ...keys.Key) Option {
	return func(o *Orchestrator) { o.keys = ks }
}

// New creates an Orchestrator over the given stores.
func New(local LocalStore, remote RemoteStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		local:  local,
		remote: remote,
		keys:   keys.All(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if o.bus == nil {
		o.bus = status.NewBus(o.logger)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	o.bg = NewBackground(o.logger)
	return o
}

// Bus returns the status bus for subscribing to sync state changes.
func (o *Orchestrator) Bus() *status.Bus {
	return o.bus
}

// Status returns the most recently published status.
func (o *Orchestrator) Status() status.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// LastSyncTime returns when the last full pass completed, if ever.
func (o *Orchestrator) LastSyncTime() (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSync == nil {
		return time.Time{}, false
	}
	return *o.lastSync, true
}

// Running reports whether a full pass is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Flush waits for background cloud writes started by Save.
func (o *Orchestrator) Flush() {
	o.bg.Wait()
}

// Load returns the value for key.
//
// The local value is read first and returned as-is when signed out. When
// signed in, the cloud value is fetched: if present it is merged with the
// local value (or copied, if the device has none), written back locally,
// and returned. Any cloud failure is logged and the local value returned.
func (o *Orchestrator) Load(ctx context.Context, key keys.Key, def any) any {
	localValue := o.local.Load(key, absent)
	fallback := localValue
	if localValue == absent {
		fallback = def
	}

	if !o.remote.IsAuthenticated(ctx) {
		return fallback
	}

	remoteValue, err := o.remote.Get(ctx, key)
	if err != nil {
		if !remote.IsNotFound(err) {
			o.logger.Printf("Failed to load %s from cloud, using local value: %v", key, err)
		}
		return fallback
	}

	result := remoteValue
	if localValue != absent {
		result = merge.Merge(remoteValue, localValue)
	}
	if !o.local.Save(key, result) {
		o.logger.Printf("Warning: failed to cache %s locally", key)
	}
	return result
}

// Save writes value under key locally and, when signed in, schedules the
// cloud write in the background. The return value reports the local write
// only; cloud failures are logged and never undo the local write.
func (o *Orchestrator) Save(ctx context.Context, key keys.Key, value any) bool {
	ok := o.local.Save(key, value)

	if o.remote.IsAuthenticated(ctx) {
		bgCtx := context.WithoutCancel(ctx)
		o.bg.Go("save "+string(key), func() error {
			return o.remote.Upsert(bgCtx, key, value)
		})
	}

	return ok
}

// SyncToCloud pushes every local value to the cloud.
//
// It reports true when every key was pushed. Keys without a local value
// count against success, so a fresh install reports a partial sync.
func (o *Orchestrator) SyncToCloud(ctx context.Context) (bool, error) {
	return o.runPass(ctx, "sync_to_cloud", func(ctx context.Context, span trace.Span) (bool, error) {
		pushed := 0
		for _, key := range o.keys {
			if err := ctx.Err(); err != nil {
				return false, err
			}

			value := o.local.Load(key, absent)
			if value == absent || value == nil {
				continue
			}
			if err := o.remote.Upsert(ctx, key, value); err != nil {
				o.logger.Printf("Failed to push %s: %v", key, err)
				continue
			}
			pushed++
		}

		span.SetAttributes(attribute.Int("sync.pushed", pushed))
		o.logger.Printf("Pushed %d/%d keys to cloud", pushed, len(o.keys))
		return pushed == len(o.keys), nil
	})
}

// SyncFromCloud overwrites local values with every value present in the
// cloud. It reports true when at least one key was pulled.
func (o *Orchestrator) SyncFromCloud(ctx context.Context) (bool, error) {
	return o.runPass(ctx, "sync_from_cloud", func(ctx context.Context, span trace.Span) (bool, error) {
		pulled := 0
		for _, key := range o.keys {
			if err := ctx.Err(); err != nil {
				return false, err
			}

			value, err := o.remote.Get(ctx, key)
			if err != nil {
				if !remote.IsNotFound(err) {
					o.logger.Printf("Failed to pull %s: %v", key, err)
				}
				continue
			}
			if !o.local.Save(key, value) {
				continue
			}
			pulled++
		}

		span.SetAttributes(attribute.Int("sync.pulled", pulled))
		o.logger.Printf("Pulled %d/%d keys from cloud", pulled, len(o.keys))
		return pulled > 0, nil
	})
}

// Report summarizes a SmartMerge pass.
type Report struct {
	Pushed  []keys.Key
	Pulled  []keys.Key
	Merged  []keys.Key
	Skipped []keys.Key
	Failed  []keys.Key
}

// OK reports whether every key was reconciled.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// SmartMerge folds the device's values into the account's cloud values
// without discarding either side. For each key:
//
//   - only local has a value: push it
//   - only the cloud has a value: pull it
//   - both have values: merge, then write the result to both sides
//   - neither has a value: skip
//
// A key whose cloud read fails is left untouched and reported as failed,
// so an outage never causes the cloud copy to be overwritten blindly.
func (o *Orchestrator) SmartMerge(ctx context.Context) (Report, error) {
	var report Report
	_, err := o.runPass(ctx, "smart_merge", func(ctx context.Context, span trace.Span) (bool, error) {
		for _, key := range o.keys {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			o.mergeKey(ctx, key, &report)
		}

		span.SetAttributes(
			attribute.Int("sync.pushed", len(report.Pushed)),
			attribute.Int("sync.pulled", len(report.Pulled)),
			attribute.Int("sync.merged", len(report.Merged)),
			attribute.Int("sync.failed", len(report.Failed)),
		)
		o.logger.Printf("Smart merge: pushed=%d pulled=%d merged=%d skipped=%d failed=%d",
			len(report.Pushed), len(report.Pulled), len(report.Merged), len(report.Skipped), len(report.Failed))
		return report.OK(), nil
	})
	return report, err
}

func (o *Orchestrator) mergeKey(ctx context.Context, key keys.Key, report *Report) {
	localValue := o.local.Load(key, absent)
	hasLocal := localValue != absent && localValue != nil

	remoteValue, err := o.remote.Get(ctx, key)
	hasRemote := err == nil && remoteValue != nil
	if err != nil && !remote.IsNotFound(err) {
		o.logger.Printf("Failed to read %s from cloud, leaving it untouched: %v", key, err)
		report.Failed = append(report.Failed, key)
		return
	}

	switch {
	case hasLocal && !hasRemote:
		if err := o.remote.Upsert(ctx, key, localValue); err != nil {
			o.logger.Printf("Failed to push %s: %v", key, err)
			report.Failed = append(report.Failed, key)
			return
		}
		report.Pushed = append(report.Pushed, key)

	case !hasLocal && hasRemote:
		if !o.local.Save(key, remoteValue) {
			report.Failed = append(report.Failed, key)
			return
		}
		report.Pulled = append(report.Pulled, key)

	case hasLocal && hasRemote:
		merged := merge.Merge(remoteValue, localValue)
		localOK := o.local.Save(key, merged)
		if err := o.remote.Upsert(ctx, key, merged); err != nil {
			o.logger.Printf("Failed to push merged %s: %v", key, err)
			localOK = false
		}
		if !localOK {
			report.Failed = append(report.Failed, key)
			return
		}
		report.Merged = append(report.Merged, key)

	default:
		report.Skipped = append(report.Skipped, key)
	}
}

// runPass executes one full pass under the exclusivity guard.
//
// The guard is released by defer on every exit path, including a panic in
// a store implementation, which is recovered and reported like any other
// pass error.
func (o *Orchestrator) runPass(ctx context.Context, name string, body func(context.Context, trace.Span) (bool, error)) (ok bool, err error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Printf("Skipping %s: another sync is in progress", name)
		return false, ErrBusy
	}
	defer o.running.Store(false)

	if !o.remote.IsAuthenticated(ctx) {
		o.logger.Printf("Skipping %s: not signed in", name)
		return false, ErrUnauthenticated
	}

	ctx, span := o.tracer.Start(ctx, "sync."+name)
	defer span.End()

	o.publish(status.Started())

	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%s panicked: %v", name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.Printf("Sync %s failed: %v", name, err)
			o.publish(status.Failed(o.lastSyncTime(), err))
		}
	}()

	ok, err = body(ctx, span)
	if err != nil {
		return false, fmt.Errorf("%s aborted: %w", name, err)
	}

	finished := o.now()
	o.mu.Lock()
	o.lastSync = &finished
	o.mu.Unlock()

	span.SetAttributes(attribute.Bool("sync.success", ok))
	o.publish(status.Finished(finished, ok))
	return ok, nil
}

func (o *Orchestrator) lastSyncTime() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSync == nil {
		return nil
	}
	t := *o.lastSync
	return &t
}

func (o *Orchestrator) publish(st status.Status) {
	o.mu.Lock()
	o.current = st
	o.mu.Unlock()
	o.bus.Publish(st)
}

// IsBusy reports whether err is ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
