// Package auth holds the signed-in user's session.
//
// fundsync does not implement sign-in flows itself. The access token issued
// by the hosted auth provider is stored in a small JSON file; the token's
// "sub" claim is the user id that scopes every remote record, and its "exp"
// claim decides whether the user still counts as authenticated.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no session file exists.
var ErrNoSession = errors.New("no session")

// Session is a persisted sign-in.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the session can authorize requests at now.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" || s.UserID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// claims is the subset of the provider's access token we read.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// FromToken builds a Session from a provider access token.
//
// The signature is not verified here: the remote store checks it on every
// request, and the client only needs the user id and expiry.
func FromToken(token string) (Session, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Session{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	if c.Subject == "" {
		return Session{}, fmt.Errorf("access token has no subject")
	}

	s := Session{
		AccessToken: token,
		UserID:      c.Subject,
		Email:       c.Email,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s, nil
}

// Source provides the current session, if any.
type Source interface {
	Current() (Session, bool)
}

// FileStore persists the session as JSON at a fixed path.
//
// It is safe for concurrent use. Reads go to disk every time so that a
// sign-in performed by another process is picked up immediately.
type FileStore struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the session file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the stored session.
func (f *FileStore) Load() (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return s, nil
}

// Save writes s to disk with owner-only permissions.
func (f *FileStore) Save(s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Write then rename so watchers never observe a half-written file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing a missing session is not an
// error.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Current implements Source. Expired or unreadable sessions count as
// signed out.
func (f *FileStore) Current() (Session, bool) {
	s, err := f.Load()
	if err != nil {
		return Session{}, false
	}
	return s, s.Valid(f.now())
}

// Static is a fixed Source, mainly for tests.
type Static struct {
	Session Session
	mu      sync.RWMutex
	off     bool
}

// NewStatic returns a source that is signed in as userID.
func NewStatic(userID string) *Static {
	return &Static{Session: Session{AccessToken: "token-" + userID, UserID: userID}}
}

// Current implements Source.
func (s *Static) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.off {
		return Session{}, false
	}
	return s.Session, s.Session.Valid(time.Now())
}

// SignOut makes Current report no session.
func (s *Static) SignOut() {
	s.mu.Lock()
	s.off = true
	s.mu.Unlock()
}

// SignIn restores the session.
func (s *Static) SignIn() {
	s.mu.Lock()
	s.off = false
	s.mu.Unlock()
}
