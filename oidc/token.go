package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is the lifetime assumed for a token when the provider
// does not echo expires_in on the token exchange response.
const DefaultTokenLifetime = 3600 * time.Second

// Token is an access-token lease: the access token along with its issuance
// time and declared lifetime. A Token is immutable once constructed and may
// be freely shared across goroutines; when a lease expires it is replaced
// wholesale by re-running the authorization flow.
type Token struct {
	accessToken AccessToken
	issuedAt    time.Time
	lifetime    time.Duration
}

// NewToken creates a lease for an access token. The issuance time is stamped
// at construction (receipt time, not provider-declared issuance time) unless
// overridden with WithIssuedAt.
func NewToken(accessToken AccessToken, lifetime time.Duration, opt ...Option) (*Token, error) {
	const op = "oidc.NewToken"
	if accessToken == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("%s: lifetime is not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getTokenOpts(opt...)
	return &Token{
		accessToken: accessToken,
		issuedAt:    opts.withIssuedAt,
		lifetime:    lifetime,
	}, nil
}

// AccessToken returns the leased access token.
func (t *Token) AccessToken() AccessToken { return t.accessToken }

// IssuedAt returns the time the lease was created.
func (t *Token) IssuedAt() time.Time { return t.issuedAt }

// Lifetime returns the lease's declared lifetime.
func (t *Token) Lifetime() time.Duration { return t.lifetime }

// IsExpired returns true once the lease's lifetime has elapsed. It is pure
// and monotonic: once true it never flips back to false. Supports the
// WithExpirySkew option (no skew by default).
func (t *Token) IsExpired(opt ...Option) bool {
	opts := getTokenOpts(opt...)
	return time.Since(t.issuedAt)+opts.withExpirySkew >= t.lifetime
}

// StaticTokenSource returns an oauth2.TokenSource for the leased access
// token, suitable for bearer-authenticated requests like userinfo fetches.
func (t *Token) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(t.accessToken)})
}

// tokenOptions is the set of available options for Token functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withIssuedAt   time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withIssuedAt: time.Now(),
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuedAt provides an optional issuance time for a new Token, overriding
// the receipt-time stamp.
func WithIssuedAt(issuedAt time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*tokenOptions); ok {
			o.withIssuedAt = issuedAt
		}
	}
}
