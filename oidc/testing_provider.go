package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// TestProvider is a local server with just enough provider capabilities
// (authorization, token and userinfo endpoints) to run authorization code +
// PKCE flows in tests without a real IdP. It validates the PKCE contract: the
// code_challenge recorded from /auth must match the S256 hash of the
// code_verifier presented to /token.
type TestProvider struct {
	httpServer *httptest.Server

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	allowedRedirectURIs []string
	recordedChallenge   string
	replyAccessToken    string
	replyExpiresIn      int
	omitExpiresIn       bool
	failTokenExchange   bool
	disableUserInfo     bool
	replyUserinfo       map[string]interface{}
	tokenRequestCount   int

	t *testing.T
}

// StartTestProvider creates and starts a disposable TestProvider. Its
// endpoints are Addr()+"/auth", "/token" and "/userinfo". The server is
// stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	p := &TestProvider{
		t:                t,
		clientID:         "test-client-id",
		clientSecret:     "test-client-secret",
		expectedAuthCode: "test-auth-code",
		replyAccessToken: "test-access-token",
		replyExpiresIn:   3600,
		replyUserinfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"name":  "alice smith",
			"email": "alice@example.com",
		},
	}
	p.httpServer = httptest.NewServer(p)
	t.Cleanup(p.httpServer.Close)
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() { p.httpServer.Close() }

// Addr returns the base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Endpoints returns the provider's auth, token and userinfo endpoint URLs,
// suitable for oidc.WithEndpoints.
func (p *TestProvider) Endpoints() (auth, token, userinfo string) {
	return p.Addr() + "/auth", p.Addr() + "/token", p.Addr() + "/userinfo"
}

// SetClientCreds configures the client credentials /token requires in its
// request body.
func (p *TestProvider) SetClientCreds(id, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = id
	p.clientSecret = secret
}

// ClientCreds returns the configured client credentials.
func (p *TestProvider) ClientCreds() (id, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code returned from /auth and the
// only auth code /token accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs configures the allowed redirect URIs. When empty,
// any redirect URI is accepted.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplyAccessToken configures the access_token /token replies with.
func (p *TestProvider) SetReplyAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = token
}

// SetReplyExpiresIn configures the expires_in value /token replies with.
func (p *TestProvider) SetReplyExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = seconds
	p.omitExpiresIn = false
}

// OmitExpiresIn makes /token omit expires_in from its response, as some
// providers do.
func (p *TestProvider) OmitExpiresIn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitExpiresIn = true
}

// FailTokenExchange makes /token reply with an invalid_grant error.
func (p *TestProvider) FailTokenExchange() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTokenExchange = true
}

// DisableUserInfo makes the userinfo endpoint return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetReplyUserinfo configures the claims /userinfo replies with.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// TokenRequestCount reports how many requests /token has received, which
// lets tests assert that a rejected callback never reached the exchanger.
func (p *TestProvider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequestCount
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) {
	p.t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		p.t.Errorf("test provider: unable to encode reply: %s", err)
	}
}

func (p *TestProvider) writeTokenError(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(&body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t.Helper()

	switch req.URL.Path {
	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		if qv.Get("response_type") != "code" {
			p.writeAuthError(w, req, "unsupported_response_type", "")
			return
		}
		if qv.Get("client_id") != p.clientID {
			p.writeAuthError(w, req, "unauthorized_client", "")
			return
		}
		if qv.Get("state") == "" {
			p.writeAuthError(w, req, "invalid_request", "missing state parameter")
			return
		}
		if qv.Get("code_challenge_method") != "S256" {
			p.writeAuthError(w, req, "invalid_request", "bad code_challenge_method")
			return
		}
		p.recordedChallenge = qv.Get("code_challenge")
		if p.recordedChallenge == "" {
			p.writeAuthError(w, req, "invalid_request", "missing code_challenge")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthError(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		redirectURI += "?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/token":
		p.tokenRequestCount++
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch {
		case p.failTokenExchange:
			p.writeTokenError(w, http.StatusBadRequest, "invalid_grant", "exchange disabled")
			return
		case req.FormValue("grant_type") != "authorization_code":
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		case req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret:
			p.writeTokenError(w, http.StatusUnauthorized, "invalid_client", "credentials must be sent in the request body")
			return
		case len(p.allowedRedirectURIs) > 0 && !strListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			p.writeTokenError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		}
		sum := sha256.Sum256([]byte(req.FormValue("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != p.recordedChallenge {
			p.writeTokenError(w, http.StatusUnauthorized, "invalid_grant", "code_verifier does not match the code_challenge")
			return
		}
		reply := map[string]interface{}{
			"access_token": p.replyAccessToken,
			"token_type":   "Bearer",
		}
		if !p.omitExpiresIn {
			reply["expires_in"] = p.replyExpiresIn
		}
		p.writeJSON(w, reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+p.replyAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		p.writeJSON(w, p.replyUserinfo)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) writeAuthError(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func strListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}
