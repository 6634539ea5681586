package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// ProviderName identifies one of the supported OIDC providers.
type ProviderName string

const (
	Microsoft ProviderName = "Microsoft"
	Google    ProviderName = "Google"
)

// ParseProviderName parses a case-insensitive provider name as sent by
// front-ends. It fails with ErrUnknownProvider for anything else.
func ParseProviderName(s string) (ProviderName, error) {
	const op = "oidc.ParseProviderName"
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "microsoft":
		return Microsoft, nil
	case "google":
		return Google, nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, s, ErrUnknownProvider)
	}
}

// Well-known endpoints for the supported providers.
const (
	MicrosoftAuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	MicrosoftTokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	MicrosoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"

	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// DefaultScopes are the scopes requested on every authorization attempt. The
// "openid" scope is required for oidc flows and is always included.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// Provider is one configured OIDC provider: its endpoints and relying-party
// credentials. A Provider is created once from configuration and never
// mutated afterwards.
type Provider struct {
	name         ProviderName
	clientID     string
	clientSecret ClientSecret
	authURL      string
	tokenURL     string
	userInfoURL  string
	scopes       []string
	client       *http.Client
}

// NewProvider creates a Provider for the named provider using its well-known
// endpoints, which can be overridden with WithEndpoints (used by tests and by
// deployments fronting the provider). It fails with ErrConfiguration when any
// endpoint does not parse as an http(s) URL and with ErrInvalidParameter when
// the credentials are empty.
//
// Supported options: WithEndpoints, WithScopes, WithHTTPClient
func NewProvider(name ProviderName, clientID string, clientSecret ClientSecret, opt ...Option) (*Provider, error) {
	const op = "oidc.NewProvider"
	opts := getProviderOpts(opt...)
	p := &Provider{
		name:         name,
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       opts.withScopes,
		client:       opts.withHTTPClient,
	}
	switch name {
	case Microsoft:
		p.authURL, p.tokenURL, p.userInfoURL = MicrosoftAuthURL, MicrosoftTokenURL, MicrosoftUserInfoURL
	case Google:
		p.authURL, p.tokenURL, p.userInfoURL = GoogleAuthURL, GoogleTokenURL, GoogleUserInfoURL
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, name, ErrUnknownProvider)
	}
	if opts.withAuthURL != "" {
		p.authURL, p.tokenURL, p.userInfoURL = opts.withAuthURL, opts.withTokenURL, opts.withUserInfoURL
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.client == nil {
		p.client = cleanhttp.DefaultPooledClient()
	}
	return p, nil
}

func (p *Provider) validate() error {
	const op = "Provider.validate"
	if p.clientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if p.clientSecret == "" {
		return fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter)
	}
	for _, raw := range []string{p.authURL, p.tokenURL, p.userInfoURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: endpoint url %q is invalid: %w", op, raw, ErrConfiguration)
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("%s: endpoint url %q scheme is not http or https: %w", op, raw, ErrConfiguration)
		}
	}
	return nil
}

// Name returns the provider's name.
func (p *Provider) Name() ProviderName { return p.name }

// UserInfoURL returns the provider's userinfo endpoint.
func (p *Provider) UserInfoURL() string { return p.userInfoURL }

// oauth2Config assembles the x/oauth2 client configuration for one attempt.
// The providers used here require the client credentials in the request body,
// not Basic auth, hence AuthStyleInParams.
func (p *Provider) oauth2Config(redirectURL string) oauth2.Config {
	return oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: string(p.clientSecret),
		RedirectURL:  redirectURL,
		Scopes:       p.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.authURL,
			TokenURL:  p.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthURL generates the URL a browser is sent to in order to kick off the
// authorization code flow, along with the pending Request the caller must
// hold on to so it can validate the eventual callback. Each call issues a
// fresh CSRF state and PKCE pair.
//
// Supported options: WithExpiresIn
func (p *Provider) AuthURL(redirectURL string, opt ...Option) (string, *Request, error) {
	const op = "Provider.AuthURL"
	opts := getRequestOpts(opt...)
	u, err := url.Parse(redirectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("%s: redirect url %q is invalid: %w", op, redirectURL, ErrConfiguration)
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return "", nil, fmt.Errorf("%s: unable to generate a csrf token: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	r := &Request{
		providerName: p.name,
		state:        state,
		verifier:     verifier,
		redirectURL:  redirectURL,
		createdAt:    time.Now(),
		expiresIn:    opts.withExpiresIn,
	}
	oauth2Cfg := p.oauth2Config(redirectURL)
	authURL := oauth2Cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", verifier.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(verifier.Method())),
	)
	return authURL, r, nil
}

// Exchange trades an authorization code for a Token at the provider's token
// endpoint, posting the code, redirect URI, client credentials and the
// attempt's code verifier in the request body. The returned lease is stamped
// at receipt time; when the provider omits expires_in the lease lifetime
// defaults to DefaultTokenLifetime.
//
// The authorization code is single-use, so a failed exchange is never
// retried; it fails with ErrTokenExchangeFailed and the Request must be
// discarded.
func (p *Provider) Exchange(ctx context.Context, r *Request, code string) (*Token, error) {
	const op = "Provider.Exchange"
	if r == nil {
		return nil, fmt.Errorf("%s: authorization request is nil: %w", op, ErrNilParameter)
	}
	if code == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAuthorizationCode)
	}
	if r.IsExpired() {
		return nil, fmt.Errorf("%s: %w", op, ErrExpiredRequest)
	}
	ctx = oidc.ClientContext(ctx, p.client)
	oauth2Cfg := p.oauth2Config(r.redirectURL)
	tk, err := oauth2Cfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", r.verifier.Verifier()),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with %s: %v: %w", op, p.name, err, ErrTokenExchangeFailed)
	}
	lifetime := DefaultTokenLifetime
	if !tk.Expiry.IsZero() {
		lifetime = time.Until(tk.Expiry).Round(time.Second)
	}
	t, err := NewToken(AccessToken(tk.AccessToken), lifetime)
	if err != nil {
		return nil, fmt.Errorf("%s: token response is unusable: %v: %w", op, err, ErrTokenExchangeFailed)
	}
	return t, nil
}

// UserInfo fetches the provider's userinfo claims with the leased access
// token as bearer credentials and unmarshals them into claims.
func (p *Provider) UserInfo(ctx context.Context, t *Token, claims interface{}) error {
	const op = "Provider.UserInfo"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	// The endpoints are static, so the go-oidc provider is built from a
	// ProviderConfig instead of issuer discovery.
	pc := oidc.ProviderConfig{
		AuthURL:     p.authURL,
		TokenURL:    p.tokenURL,
		UserInfoURL: p.userInfoURL,
	}
	ctx = oidc.ClientContext(ctx, p.client)
	info, err := pc.NewProvider(ctx).UserInfo(ctx, t.StaticTokenSource())
	if err != nil {
		return fmt.Errorf("%s: %s userinfo request failed: %v: %w", op, p.name, err, ErrUserInfoFailed)
	}
	if err := info.Claims(claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal %s userinfo claims: %v: %w", op, p.name, err, ErrUserInfoFailed)
	}
	return nil
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withAuthURL     string
	withTokenURL    string
	withUserInfoURL string
	withScopes      []string
	withHTTPClient  *http.Client
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withScopes: DefaultScopes,
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithEndpoints overrides the provider's well-known authorization, token and
// userinfo endpoints.
func WithEndpoints(authURL, tokenURL, userInfoURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withAuthURL = authURL
			o.withTokenURL = tokenURL
			o.withUserInfoURL = userInfoURL
		}
	}
}

// WithScopes provides an optional list of scopes to request instead of
// DefaultScopes. The required "openid" scope is added when missing.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			for _, s := range scopes {
				if s == oidc.ScopeOpenID {
					o.withScopes = scopes
					return
				}
			}
			o.withScopes = append([]string{oidc.ScopeOpenID}, scopes...)
		}
	}
}

// WithHTTPClient provides an optional http client for the provider instead of
// the default pooled client.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// Registry is the static table of configured Providers.
type Registry struct {
	providers map[ProviderName]*Provider
}

// NewRegistry creates a Registry from the given providers.
func NewRegistry(providers ...*Provider) (*Registry, error) {
	const op = "oidc.NewRegistry"
	r := &Registry{providers: make(map[ProviderName]*Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%s: provider is nil: %w", op, ErrNilParameter)
		}
		if _, ok := r.providers[p.name]; ok {
			return nil, fmt.Errorf("%s: duplicate provider %s: %w", op, p.name, ErrInvalidParameter)
		}
		r.providers[p.name] = p
	}
	return r, nil
}

// Lookup returns the Provider registered under name.
func (r *Registry) Lookup(name ProviderName) (*Provider, error) {
	const op = "Registry.Lookup"
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, name, ErrUnknownProvider)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []ProviderName {
	names := make([]ProviderName, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
