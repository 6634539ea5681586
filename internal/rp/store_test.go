package rp

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rrogntudju/userinfos/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Parallel()
	t.Run("nil-registry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewStore(nil, "http://localhost:8000/auth")
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrNilParameter)
	})
	t.Run("bad-redirect-url", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, reg := testRegistry(t)
		_, err := NewStore(reg, "not a url")
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrConfiguration)
	})
}

func TestStore_EndToEnd(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp, store := testStore(t)

	id, authURL, err := store.Begin(oidc.Google)
	require.NoError(err)
	assert.NotEmpty(id)
	assert.Contains(authURL, tp.Addr())
	assert.Equal(1, store.Len())

	state, code := testFollowAuthURL(t, authURL)
	require.NoError(store.Complete(ctx, id, state, code))
	assert.Equal(1, tp.TokenRequestCount())

	token, err := store.Access(id, oidc.Google)
	require.NoError(err)
	assert.Equal(oidc.AccessToken("test-access-token"), token.AccessToken())

	// The lease stays reusable until it expires.
	again, err := store.Access(id, oidc.Google)
	require.NoError(err)
	assert.Same(token, again)
	assert.Equal(1, tp.TokenRequestCount())
}

func TestStore_Complete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, store := testStore(t)
		err := store.Complete(ctx, "nope", "state", "code")
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("second-complete-fails-and-keeps-the-first-lease", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, store := testStore(t)
		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state, code := testFollowAuthURL(t, authURL)
		require.NoError(store.Complete(ctx, id, state, code))

		err = store.Complete(ctx, id, state, code)
		require.Error(err)
		assert.ErrorIs(err, ErrAlreadyAuthenticated)
		assert.Equal(1, tp.TokenRequestCount())

		token, err := store.Access(id, oidc.Google)
		require.NoError(err)
		assert.Equal(oidc.AccessToken("test-access-token"), token.AccessToken())
	})

	t.Run("state-mismatch-never-reaches-the-token-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, store := testStore(t)
		id, _, err := store.Begin(oidc.Google)
		require.NoError(err)

		err = store.Complete(ctx, id, "evil-state", "stolen-code")
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrCSRFMismatch)
		assert.Equal(0, tp.TokenRequestCount())

		// The attempt is consumed either way.
		_, err = store.Access(id, oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("missing-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, store := testStore(t)
		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state := testStateFromAuthURL(t, authURL)

		err = store.Complete(ctx, id, state, "")
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrMissingAuthorizationCode)
		assert.Equal(0, tp.TokenRequestCount())
	})

	t.Run("expired-pending-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, reg := testRegistry(t)
		store, err := NewStore(reg, "http://localhost:8000/auth", WithPendingTTL(0))
		require.NoError(err)
		t.Cleanup(store.Close)

		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state := testStateFromAuthURL(t, authURL)

		err = store.Complete(ctx, id, state, "code")
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("exchange-failure-consumes-the-attempt", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, store := testStore(t)
		tp.FailTokenExchange()
		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state, code := testFollowAuthURL(t, authURL)

		err = store.Complete(ctx, id, state, code)
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrTokenExchangeFailed)

		_, err = store.Access(id, oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("racing-callers-consume-the-attempt-once", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, store := testStore(t)
		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state, code := testFollowAuthURL(t, authURL)

		const racers = 4
		errs := make([]error, racers)
		var wg sync.WaitGroup
		wg.Add(racers)
		for i := 0; i < racers; i++ {
			go func(i int) {
				defer wg.Done()
				errs[i] = store.Complete(ctx, id, state, code)
			}(i)
		}
		wg.Wait()

		var successes int
		for _, err := range errs {
			if err == nil {
				successes++
			}
		}
		assert.Equal(1, successes)
		assert.Equal(1, tp.TokenRequestCount())
	})
}

func TestStore_Access(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, store := testStore(t)
		_, err := store.Access("nope", oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("half-finished-attempt-is-discarded", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, store := testStore(t)
		id, _, err := store.Begin(oidc.Google)
		require.NoError(err)

		_, err = store.Access(id, oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
		assert.Equal(0, store.Len())
	})

	t.Run("provider-change-requires-a-fresh-authentication", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, store := testStore(t)
		id, authURL, err := store.Begin(oidc.Google)
		require.NoError(err)
		state, code := testFollowAuthURL(t, authURL)
		require.NoError(store.Complete(ctx, id, state, code))

		_, err = store.Access(id, oidc.Microsoft)
		require.Error(err)
		assert.ErrorIs(err, ErrProviderChanged)

		// The session was discarded, even for the original provider.
		_, err = store.Access(id, oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
	})

	t.Run("expired-lease-is-discarded", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, store := testStore(t)
		expired, err := oidc.NewToken("stale", time.Hour, oidc.WithIssuedAt(time.Now().Add(-2*time.Hour)))
		require.NoError(err)
		store.mu.Lock()
		store.sessions["stale"] = &Session{provider: oidc.Google, token: expired}
		store.mu.Unlock()

		_, err = store.Access("stale", oidc.Google)
		require.Error(err)
		assert.ErrorIs(err, ErrNoSession)
		assert.Equal(0, store.Len())
	})
}

func TestStore_JanitorEvictsExpiredSessions(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	_, reg := testRegistry(t)
	store, err := NewStore(reg, "http://localhost:8000/auth", WithJanitorInterval(10*time.Millisecond))
	require.NoError(err)
	t.Cleanup(store.Close)

	expired, err := oidc.NewToken("stale", time.Hour, oidc.WithIssuedAt(time.Now().Add(-2*time.Hour)))
	require.NoError(err)
	store.mu.Lock()
	store.sessions["stale"] = &Session{provider: oidc.Google, token: expired}
	store.mu.Unlock()

	assert.Eventually(func() bool { return store.Len() == 0 }, time.Second, 10*time.Millisecond)
}

// testRegistry builds a registry with both providers pointed at one test
// provider.
func testRegistry(t *testing.T) (*oidc.TestProvider, *oidc.Registry) {
	t.Helper()
	tp := oidc.StartTestProvider(t)
	auth, token, userinfo := tp.Endpoints()
	g, err := oidc.NewProvider(oidc.Google, "test-client-id", "test-client-secret",
		oidc.WithEndpoints(auth, token, userinfo))
	require.NoError(t, err)
	ms, err := oidc.NewProvider(oidc.Microsoft, "test-client-id", "test-client-secret",
		oidc.WithEndpoints(auth, token, userinfo))
	require.NoError(t, err)
	reg, err := oidc.NewRegistry(g, ms)
	require.NoError(t, err)
	return tp, reg
}

func testStore(t *testing.T) (*oidc.TestProvider, *Store) {
	t.Helper()
	tp, reg := testRegistry(t)
	store, err := NewStore(reg, "http://localhost:8000/auth")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return tp, store
}

// testFollowAuthURL plays the browser against the authorization endpoint and
// captures the state and code from the redirect without following it.
func testFollowAuthURL(t *testing.T, authURL string) (state, code string) {
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

func testStateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}
