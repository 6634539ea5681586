package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderName(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	for _, s := range []string{"microsoft", "Microsoft", "MICROSOFT", " microsoft "} {
		got, err := ParseProviderName(s)
		require.NoError(err)
		assert.Equal(Microsoft, got)
	}
	got, err := ParseProviderName("google")
	require.NoError(err)
	assert.Equal(Google, got)

	_, err = ParseProviderName("github")
	require.Error(err)
	assert.ErrorIs(err, ErrUnknownProvider)
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	t.Run("well-known-endpoints", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := NewProvider(Microsoft, "client-id", "client-secret")
		require.NoError(err)
		assert.Equal(Microsoft, p.Name())
		assert.Equal(MicrosoftUserInfoURL, p.UserInfoURL())

		p, err = NewProvider(Google, "client-id", "client-secret")
		require.NoError(err)
		assert.Equal(GoogleUserInfoURL, p.UserInfoURL())
	})
	t.Run("unknown-name", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewProvider(ProviderName("GitHub"), "client-id", "client-secret")
		require.Error(err)
		assert.ErrorIs(err, ErrUnknownProvider)
	})
	t.Run("empty-credentials", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewProvider(Google, "", "client-secret")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)

		_, err = NewProvider(Google, "client-id", "")
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("bad-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewProvider(Google, "client-id", "client-secret",
			WithEndpoints("not a url", "not a url", "not a url"))
		require.Error(err)
		assert.ErrorIs(err, ErrConfiguration)
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	p := testNewProvider(t, tp)

	t.Run("parameters", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		authURL, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		require.NotNil(r)

		u, err := url.Parse(authURL)
		require.NoError(err)
		assert.Equal(tp.Addr(), "http://"+u.Host)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal("http://localhost:86/", q.Get("redirect_uri"))
		assert.Equal(r.State(), q.Get("state"))
		assert.NotEmpty(q.Get("state"))
		assert.Equal(r.Verifier().Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Contains(strings.Fields(q.Get("scope")), "openid")

		assert.Equal(Google, r.ProviderName())
		assert.Equal("http://localhost:86/", r.RedirectURL())
		assert.False(r.IsExpired())
	})
	t.Run("fresh-material-per-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, r1, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		_, r2, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		assert.NotEqual(r1.State(), r2.State())
		assert.NotEqual(r1.Verifier().Verifier(), r2.Verifier().Verifier())
	})
	t.Run("bad-redirect-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, _, err := p.AuthURL("not a url")
		require.Error(err)
		assert.ErrorIs(err, ErrConfiguration)
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		authURL, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		state, code := testAuthorize(t, authURL)
		require.Equal(r.State(), state)

		tk, err := p.Exchange(ctx, r, code)
		require.NoError(err)
		assert.Equal(AccessToken("test-access-token"), tk.AccessToken())
		assert.False(tk.IsExpired())
		assert.InDelta(DefaultTokenLifetime.Seconds(), tk.Lifetime().Seconds(), 5)
		assert.Equal(1, tp.TokenRequestCount())
	})
	t.Run("expires-in-omitted-defaults-to-one-hour", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.OmitExpiresIn()
		p := testNewProvider(t, tp)
		authURL, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		_, code := testAuthorize(t, authURL)

		tk, err := p.Exchange(ctx, r, code)
		require.NoError(err)
		assert.Equal(DefaultTokenLifetime, tk.Lifetime())
	})
	t.Run("provider-rejects-the-exchange", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.FailTokenExchange()
		p := testNewProvider(t, tp)
		authURL, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		_, code := testAuthorize(t, authURL)

		_, err = p.Exchange(ctx, r, code)
		require.Error(err)
		assert.ErrorIs(err, ErrTokenExchangeFailed)
	})
	t.Run("nil-request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.Exchange(ctx, nil, "code")
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("empty-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		_, err = p.Exchange(ctx, r, "")
		require.Error(err)
		assert.ErrorIs(err, ErrMissingAuthorizationCode)
	})
	t.Run("expired-request", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, r, err := p.AuthURL("http://localhost:86/", WithExpiresIn(0))
		require.NoError(err)
		_, err = p.Exchange(ctx, r, "code")
		require.Error(err)
		assert.ErrorIs(err, ErrExpiredRequest)
	})
}

func TestProvider_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		authURL, r, err := p.AuthURL("http://localhost:86/")
		require.NoError(err)
		_, code := testAuthorize(t, authURL)
		tk, err := p.Exchange(ctx, r, code)
		require.NoError(err)

		var claims map[string]interface{}
		require.NoError(p.UserInfo(ctx, tk, &claims))
		assert.Equal("alice smith", claims["name"])
		assert.Equal("alice@example.com", claims["email"])
	})
	t.Run("rejected-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tk, err := NewToken("bogus", time.Hour)
		require.NoError(err)

		var claims map[string]interface{}
		err = p.UserInfo(ctx, tk, &claims)
		require.Error(err)
		assert.ErrorIs(err, ErrUserInfoFailed)
	})
	t.Run("nil-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		var claims map[string]interface{}
		err := p.UserInfo(ctx, nil, &claims)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	newTestProvider := func(t *testing.T, name ProviderName) *Provider {
		p, err := NewProvider(name, "client-id", "client-secret")
		require.NoError(t, err)
		return p
	}

	t.Run("lookup", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ms := newTestProvider(t, Microsoft)
		g := newTestProvider(t, Google)
		reg, err := NewRegistry(ms, g)
		require.NoError(err)

		got, err := reg.Lookup(Microsoft)
		require.NoError(err)
		assert.Same(ms, got)

		_, err = reg.Lookup(ProviderName("GitHub"))
		require.Error(err)
		assert.ErrorIs(err, ErrUnknownProvider)
	})
	t.Run("duplicate", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewRegistry(newTestProvider(t, Google), newTestProvider(t, Google))
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("nil-provider", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewRegistry(nil)
		require.Error(err)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("names-sorted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		reg, err := NewRegistry(newTestProvider(t, Microsoft), newTestProvider(t, Google))
		require.NoError(err)
		assert.Equal([]ProviderName{Google, Microsoft}, reg.Names())
	})
}

// testNewProvider creates a Google provider pointed at the test provider's
// endpoints with its default client credentials.
func testNewProvider(t *testing.T, tp *TestProvider) *Provider {
	t.Helper()
	auth, token, userinfo := tp.Endpoints()
	p, err := NewProvider(Google, "test-client-id", "test-client-secret",
		WithEndpoints(auth, token, userinfo))
	require.NoError(t, err)
	return p
}

// testAuthorize plays the browser: it follows the authorization URL and
// captures the state and code from the provider's redirect without following
// it.
func testAuthorize(t *testing.T, authURL string) (state, code string) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	require.Empty(t, q.Get("error"), "authorization endpoint replied with an error: %s", q.Get("error"))
	return q.Get("state"), q.Get("code")
}
