package rp

import (
	"errors"

	"github.com/rrogntudju/userinfos/oidc"
)

var (
	ErrNoSession            = errors.New("no session")
	ErrProviderChanged      = errors.New("session provider does not match the requested provider")
	ErrAlreadyAuthenticated = errors.New("session is already authenticated")
)

// SessionID is the opaque random token identifying one session. It is
// unrelated to any CSRF token.
type SessionID string

// Session is a two-state entity owned by the Store:
//
//	authentication requested (a pending authorization attempt is underway)
//	  -> authenticated (an access-token lease is held)
//
// The transition is one-directional and single-use: complete() refuses to run
// twice, and a session never returns to the requested state. The store
// deletes it and issues a new one instead.
type Session struct {
	provider oidc.ProviderName
	pending  *oidc.Request
	token    *oidc.Token
}

func newSession(provider oidc.ProviderName, pending *oidc.Request) *Session {
	return &Session{
		provider: provider,
		pending:  pending,
	}
}

// authenticated reports whether the session holds a token lease.
func (s *Session) authenticated() bool { return s.token != nil }

// complete transitions the session to authenticated, consuming its pending
// material. A second call fails with ErrAlreadyAuthenticated and leaves the
// first lease untouched.
func (s *Session) complete(t *oidc.Token) error {
	if s.token != nil {
		return ErrAlreadyAuthenticated
	}
	s.token = t
	s.pending = nil
	return nil
}

// expired reports whether the session is no longer usable: an authenticated
// session whose lease has run out, or a requested one whose pending attempt
// has expired.
func (s *Session) expired() bool {
	if s.token != nil {
		return s.token.IsExpired()
	}
	return s.pending == nil || s.pending.IsExpired()
}
