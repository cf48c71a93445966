// Package sync reconciles the on-device store with the per-user cloud store.
package sync

import (
	"context"
	"errors"

	"github.com/Mschirtzinger/fundsync/internal/keys"
)

var (
	// ErrBusy is returned when a full pass is requested while another one
	// is still running. The request is dropped, not queued.
	ErrBusy = errors.New("sync already in progress")

	// ErrUnauthenticated is returned when a full pass is requested while
	// signed out.
	ErrUnauthenticated = errors.New("not signed in")
)

// LocalStore is the device-local key/value store.
//
// Implementations never fail loudly: Load returns def for missing or
// unreadable keys, and Save reports failure as false after logging it.
type LocalStore interface {
	// Load returns the value under key, or def if there is none.
	Load(key keys.Key, def any) any

	// Save replaces the value under key.
	Save(key keys.Key, value any) bool
}

// RemoteStore is the authenticated per-user cloud store.
type RemoteStore interface {
	// IsAuthenticated reports whether a user is signed in.
	IsAuthenticated(ctx context.Context) bool

	// UserID returns the signed-in user's id.
	UserID(ctx context.Context) (string, bool)

	// Get returns the value under key. A missing record is reported as an
	// error satisfying remote.IsNotFound, never as a failure.
	Get(ctx context.Context, key keys.Key) (any, error)

	// Upsert replaces the record under key.
	Upsert(ctx context.Context, key keys.Key, value any) error
}
