package oidc

import (
	"crypto/subtle"
	"time"
)

// DefaultRequestExpiry is how long a pending authorization attempt stays
// valid before the user is required to start over.
const DefaultRequestExpiry = 5 * time.Minute

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// Request represents one pending authorization attempt: the single-use
// material issued when an authorization URL is built and needed to validate
// the eventual callback. A Request is consumed at most once, by the first
// callback for its state; on timeout, error or state mismatch it must be
// discarded, never reused for a second callback.
type Request struct {
	providerName ProviderName

	// state is the CSRF token round-tripped through the authorization
	// redirect. The callback's state must byte-equal this value.
	state string

	verifier    *CodeVerifier
	redirectURL string
	createdAt   time.Time
	expiresIn   time.Duration
}

// ProviderName returns the provider this attempt was issued for.
func (r *Request) ProviderName() ProviderName { return r.providerName }

// State returns the attempt's CSRF token.
func (r *Request) State() string { return r.state }

// Verifier returns the attempt's PKCE code verifier.
func (r *Request) Verifier() *CodeVerifier { return r.verifier }

// RedirectURL returns the redirect URL the attempt was built with.
func (r *Request) RedirectURL() string { return r.redirectURL }

// CreatedAt returns the attempt's creation time.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// MatchesState reports whether the state echoed on a callback equals the CSRF
// token issued for this attempt. The comparison is constant-time and treats
// both values as opaque bytes.
func (r *Request) MatchesState(state string) bool {
	if state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.state), []byte(state)) == 1
}

// IsExpired returns true if the attempt has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultRequestExpirySkew.
func (r *Request) IsExpired(opt ...Option) bool {
	opts := getRequestOpts(opt...)
	return time.Since(r.createdAt)+opts.withExpirySkew >= r.expiresIn
}

// requestOptions is the set of available options for Request functions
type requestOptions struct {
	withExpirySkew time.Duration
	withExpiresIn  time.Duration
}

// requestDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func requestDefaults() requestOptions {
	return requestOptions{
		withExpirySkew: DefaultRequestExpirySkew,
		withExpiresIn:  DefaultRequestExpiry,
	}
}

// getRequestOpts gets the request defaults and applies the opt overrides
// passed in
func getRequestOpts(opt ...Option) requestOptions {
	opts := requestDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithExpiresIn provides an optional expiry for a pending authorization
// attempt, overriding DefaultRequestExpiry.
func WithExpiresIn(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*requestOptions); ok {
			o.withExpiresIn = d
		}
	}
}
