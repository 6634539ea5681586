package rp

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/hashicorp/go-uuid"
	"github.com/rrogntudju/userinfos/oidc"
)

const (
	sessionCookie = "Session-Id"
	csrfCookie    = "Csrf-Token"
	csrfHeader    = "X-Csrf-Token"
)

// maxBodyBytes bounds the /userinfos request body.
const maxBodyBytes = 1024

type userinfosRequest struct {
	Provider string `json:"provider"`
}

type userinfoEntry struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// handleUserinfos serves POST /userinfos. With a valid authenticated session
// it fetches the provider's userinfo claims with the leased token; in every
// other case it starts a fresh authorization attempt and replies with the URL
// the browser must visit, plus regenerated session and CSRF cookies.
func (s *Server) handleUserinfos(w http.ResponseWriter, r *http.Request) {
	// Double-submit check: when the CSRF cookie exists, the header must echo
	// it exactly.
	if c, err := r.Cookie(csrfCookie); err == nil {
		h := r.Header.Get(csrfHeader)
		if h == "" || subtle.ConstantTimeCompare([]byte(h), []byte(c.Value)) != 1 {
			s.logger.Warn("userinfos: csrf header does not match the csrf cookie")
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body userinfosRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	provider, err := oidc.ParseProviderName(body.Provider)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}

	if c, err := r.Cookie(sessionCookie); err == nil {
		token, err := s.store.Access(SessionID(c.Value), provider)
		if err == nil {
			s.replyUserinfos(w, r, provider, token)
			return
		}
		// Stale session already discarded by the store; fall through to a
		// fresh attempt.
		s.logger.Debug("userinfos: restarting authentication", "reason", err)
	}
	s.beginAuth(w, provider)
}

func (s *Server) replyUserinfos(w http.ResponseWriter, r *http.Request, provider oidc.ProviderName, token *oidc.Token) {
	p, err := s.registry.Lookup(provider)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}
	var claims map[string]interface{}
	if err := p.UserInfo(r.Context(), token, &claims); err != nil {
		s.logger.Error("userinfos: userinfo fetch failed", "provider", provider, "error", err)
		http.Error(w, "userinfo request failed", http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]userinfoEntry, 0, len(claims))
	for _, name := range names {
		entries = append(entries, userinfoEntry{Name: name, Value: claims[name]})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) beginAuth(w http.ResponseWriter, provider oidc.ProviderName) {
	id, authURL, err := s.store.Begin(provider)
	if err != nil {
		s.logger.Error("userinfos: unable to start an authorization attempt", "provider", provider, "error", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	csrf, err := newCsrfToken()
	if err != nil {
		s.logger.Error("userinfos: unable to issue a csrf token", "error", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}
	// Lax is required until the provider's top-level redirect to /auth has
	// carried the cookie; /auth rewrites it with Strict.
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    string(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	// Readable by the page so it can be reflected into the X-Csrf-Token
	// header, hence not HttpOnly.
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    csrf,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"redirectOP": authURL})
}

// handleAuth serves GET /auth, the redirect target registered with the
// providers. It completes the session's pending authorization and sends the
// browser to the static userinfos page.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		s.logger.Warn("auth: session cookie is missing")
		http.Error(w, "authentication failed", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	if err := s.store.Complete(r.Context(), SessionID(c.Value), query.Get("state"), query.Get("code")); err != nil {
		s.logger.Warn("auth: unable to complete authentication", "error", err)
		status := http.StatusBadRequest
		if errors.Is(err, oidc.ErrCSRFMismatch) {
			status = http.StatusForbidden
		}
		http.Error(w, "authentication failed", status)
		return
	}
	// The provider redirect is done; pin the session cookie back to Strict.
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    c.Value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/static/userinfos.html", http.StatusFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("unable to encode response", "error", err)
	}
}

// newCsrfToken returns the 64-character opaque value of the double-submit
// cookie, regenerated for every authorization attempt.
func newCsrfToken() (string, error) {
	data, err := uuid.GenerateRandomBytes(48)
	if err != nil {
		return "", fmt.Errorf("unable to generate a csrf token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
