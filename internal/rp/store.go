package rp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/rrogntudju/userinfos/oidc"
)

// DefaultJanitorInterval is how often the store sweeps for expired sessions.
const DefaultJanitorInterval = time.Minute

// Store maps session identifiers to Sessions. It is the sole mutator of
// session entries and is safe for concurrent use by many request handlers;
// sessions are independent and short-lived, so a single map-wide lock is
// enough. Expired or mismatched entries are removed outright, never just
// marked, which forces callers back through Begin.
type Store struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session

	registry    *oidc.Registry
	redirectURL string
	pendingTTL  time.Duration
	logger      hclog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session store whose authorization attempts redirect to
// redirectURL (the server's /auth route). A background janitor evicts expired
// entries until Close is called.
//
// Supported options: WithPendingTTL, WithJanitorInterval, WithLogger
func NewStore(registry *oidc.Registry, redirectURL string, opt ...Option) (*Store, error) {
	const op = "rp.NewStore"
	if registry == nil {
		return nil, fmt.Errorf("%s: registry is nil: %w", op, oidc.ErrNilParameter)
	}
	if u, err := url.Parse(redirectURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s: redirect url %q is invalid: %w", op, redirectURL, oidc.ErrConfiguration)
	}
	opts := getStoreOpts(opt...)
	s := &Store{
		sessions:    make(map[SessionID]*Session),
		registry:    registry,
		redirectURL: redirectURL,
		pendingTTL:  opts.withPendingTTL,
		logger:      opts.withLogger,
		stopCh:      make(chan struct{}),
	}
	go s.janitor(opts.withJanitorInterval)
	return s, nil
}

// Close stops the store's janitor.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Begin starts a fresh authorization attempt for the provider: it issues a
// new session identifier, builds the authorization URL with fresh single-use
// material and records the pending session. The caller sends the user's
// browser to the returned URL.
func (s *Store) Begin(provider oidc.ProviderName) (SessionID, string, error) {
	const op = "Store.Begin"
	p, err := s.registry.Lookup(provider)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, pending, err := p.AuthURL(s.redirectURL, oidc.WithExpiresIn(s.pendingTTL))
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	id := SessionID(uuid.NewString())
	s.mu.Lock()
	s.sessions[id] = newSession(provider, pending)
	s.mu.Unlock()
	s.logger.Debug("authentication requested", "provider", provider)
	return id, authURL, nil
}

// Complete consumes the session's pending authorization: it validates the
// echoed state against the issued CSRF token, exchanges the code and replaces
// the entry with an authenticated one.
//
// The entry is claimed under the write lock before the exchange, so the
// requested-to-authenticated transition is a single guarded read-modify-write
// and two callers racing on the same identifier cannot both consume the
// attempt. Whatever goes wrong after the claim, the pending material is
// already discarded and never reusable for a second callback.
//
// Calling Complete again after a success fails with ErrAlreadyAuthenticated
// and leaves the first lease untouched.
func (s *Store) Complete(ctx context.Context, id SessionID, state, code string) error {
	const op = "Store.Complete"

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if sess.authenticated() {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrAlreadyAuthenticated)
	}
	pending := sess.pending
	delete(s.sessions, id) // claimed: single-use whatever the outcome
	s.mu.Unlock()

	if pending == nil || pending.IsExpired() {
		return fmt.Errorf("%s: pending authorization expired: %w", op, ErrNoSession)
	}
	if !pending.MatchesState(state) {
		s.logger.Warn("callback state does not match the issued csrf token", "provider", sess.provider)
		return fmt.Errorf("%s: %w", op, oidc.ErrCSRFMismatch)
	}
	if code == "" {
		return fmt.Errorf("%s: %w", op, oidc.ErrMissingAuthorizationCode)
	}

	p, err := s.registry.Lookup(sess.provider)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	token, err := p.Exchange(ctx, pending, code)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := sess.complete(token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.logger.Debug("authentication completed", "provider", sess.provider)
	return nil
}

// Access returns the session's token lease when the session is
// authenticated, unexpired and was established for the requested provider.
// In every other case the stale entry is deleted and the caller must Begin a
// fresh attempt: ErrProviderChanged when the provider no longer matches,
// ErrNoSession otherwise (unknown identifier, half-finished attempt, or an
// expired lease).
func (s *Store) Access(id SessionID, provider oidc.ProviderName) (*oidc.Token, error) {
	const op = "Store.Access"
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if !sess.authenticated() {
		delete(s.sessions, id)
		return nil, fmt.Errorf("%s: authentication was never completed: %w", op, ErrNoSession)
	}
	if sess.provider != provider {
		delete(s.sessions, id)
		s.logger.Debug("provider changed", "from", sess.provider, "to", provider)
		return nil, fmt.Errorf("%s: %w", op, ErrProviderChanged)
	}
	if sess.token.IsExpired() {
		delete(s.sessions, id)
		s.logger.Debug("session lease expired", "provider", sess.provider)
		return nil, fmt.Errorf("%s: lease expired: %w", op, ErrNoSession)
	}
	return sess.token, nil
}

func (s *Store) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.expired() {
			delete(s.sessions, id)
		}
	}
}

// storeOptions is the set of available options for NewStore
type storeOptions struct {
	withPendingTTL      time.Duration
	withJanitorInterval time.Duration
	withLogger          hclog.Logger
}

// storeDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func storeDefaults() storeOptions {
	return storeOptions{
		withPendingTTL:      oidc.DefaultRequestExpiry,
		withJanitorInterval: DefaultJanitorInterval,
		withLogger:          hclog.NewNullLogger(),
	}
}

// getStoreOpts gets the store defaults and applies the opt overrides passed
// in
func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option defines a common functional options type
type Option func(interface{})

// WithPendingTTL bounds how long an attempt may stay pending before its
// session is evicted.
func WithPendingTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withPendingTTL = d
		}
	}
}

// WithJanitorInterval overrides DefaultJanitorInterval.
func WithJanitorInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok {
			o.withJanitorInterval = d
		}
	}
}

// WithLogger provides a logger for the store.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*storeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
