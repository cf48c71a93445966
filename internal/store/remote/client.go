// Package remote implements the per-user cloud store.
//
// Records live in a single PostgREST-exposed table keyed by (user_id, key):
//
//	user_data(user_id uuid, key text, value text, updated_at timestamptz,
//	          primary key (user_id, key))
//
// Reads are point lookups; writes are upserts with (user_id, key) as the
// conflict target. Every request carries the signed-in user's access token,
// so row-level security on the server keeps users from seeing each other's
// records; the client also filters by user id explicitly.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Mschirtzinger/fundsync/internal/auth"
	"github.com/Mschirtzinger/fundsync/internal/keys"
)

// Config holds remote store settings.
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co
	URL string

	// AnonKey is the public API key sent as the apikey header.
	AnonKey string

	// Table holds the user records (default: user_data).
	Table string

	// Timeout bounds each HTTP request (default: 10s).
	Timeout time.Duration

	// MaxTries bounds attempts for retryable failures (default: 3).
	MaxTries uint

	// RetryInterval is the first backoff delay (default: 200ms).
	RetryInterval time.Duration
}

// DefaultConfig returns sensible defaults. URL and AnonKey are left empty.
func DefaultConfig() Config {
	return Config{
		Table:         "user_data",
		Timeout:       10 * time.Second,
		MaxTries:      3,
		RetryInterval: 200 * time.Millisecond,
	}
}

// Configured reports whether URL and AnonKey are set.
func (c Config) Configured() bool {
	return c.URL != "" && c.AnonKey != ""
}

// Client talks to the remote store on behalf of the signed-in user.
type Client struct {
	cfg     Config
	http    *http.Client
	session auth.Source
	logger  *log.Logger
	now     func() time.Time
}

// New creates a Client.
//
// If logger is nil, a default logger writing to stderr is used. A client
// with missing URL or key still works: it reports unauthenticated and every
// write returns false, so the app keeps running local-only.
func New(cfg Config, session auth.Source, logger *log.Logger) *Client {
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if !cfg.Configured() {
		logger.Printf("Warning: remote URL or API key missing, cloud sync disabled")
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// UserID returns the signed-in user's id.
func (c *Client) UserID(ctx context.Context) (string, bool) {
	s, ok := c.session.Current()
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// IsAuthenticated reports whether remote calls can be made.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	if !c.cfg.Configured() {
		return false
	}
	_, ok := c.session.Current()
	return ok
}

// row is the wire shape of a user_data record.
type row struct {
	UserID    string  `json:"user_id,omitempty"`
	Key       string  `json:"key,omitempty"`
	Value     *string `json:"value"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// Get fetches the value stored under key.
//
// It returns ErrNotFound when the user has no record (including an empty or
// null value column), and a wrapped transport or *APIError otherwise.
func (c *Client) Get(ctx context.Context, key keys.Key) (any, error) {
	sess, err := c.authorize()
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("select", "value")
	q.Set("user_id", "eq."+sess.UserID)
	q.Set("key", "eq."+string(key))

	body, err := c.do(ctx, sess, http.MethodGet, q, nil, map[string]string{
		"Accept": "application/vnd.pgrst.object+json",
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	var r row
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s record: %w", key, err)
	}
	if r.Value == nil || *r.Value == "" {
		return nil, ErrNotFound
	}

	var v any
	if err := json.Unmarshal([]byte(*r.Value), &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s value: %w", key, err)
	}
	// A stored JSON null carries no data.
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// Upsert replaces the record for key with value, stamping updated_at.
func (c *Client) Upsert(ctx context.Context, key keys.Key, value any) error {
	sess, err := c.authorize()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	text := string(encoded)

	payload, err := json.Marshal(row{
		UserID:    sess.UserID,
		Key:       string(key),
		Value:     &text,
		UpdatedAt: c.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", key, err)
	}

	q := url.Values{}
	q.Set("on_conflict", "user_id,key")

	_, err = c.do(ctx, sess, http.MethodPost, q, payload, map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "resolution=merge-duplicates,return=minimal",
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load is the caller-friendly form of Get: failures are logged and, like a
// missing record, reported as (nil, false).
func (c *Client) Load(ctx context.Context, key keys.Key) (any, bool) {
	v, err := c.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnauthenticated) {
			c.logger.Printf("Failed to load %s from cloud: %v", key, err)
		}
		return nil, false
	}
	return v, true
}

// Save is the caller-friendly form of Upsert. It returns false when
// signed out (logging a warning) or when the write fails.
func (c *Client) Save(ctx context.Context, key keys.Key, value any) bool {
	err := c.Upsert(ctx, key, value)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrNotConfigured):
		c.logger.Printf("Warning: not signed in, cannot save %s to cloud", key)
	default:
		c.logger.Printf("Failed to save %s to cloud: %v", key, err)
	}
	return false
}

func (c *Client) authorize() (auth.Session, error) {
	if !c.cfg.Configured() {
		return auth.Session{}, ErrNotConfigured
	}
	sess, ok := c.session.Current()
	if !ok {
		return auth.Session{}, ErrUnauthenticated
	}
	return sess, nil
}

// do performs one logical request, retrying transport failures and
// temporary server errors with exponential backoff.
func (c *Client) do(ctx context.Context, sess auth.Session, method string, q url.Values, payload []byte, headers map[string]string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.cfg.URL, c.cfg.Table, q.Encode())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval

	op := func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("apikey", c.cfg.AnonKey)
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Temporary() {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxTries),
	)
}
