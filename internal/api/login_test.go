package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutripublic/portal/internal/identity"
)

// echoNonceVerifier accepts the token "good" and answers with claims that
// carry whatever nonce the test set.
type echoNonceVerifier struct {
	mu    sync.Mutex
	nonce string
}

func (v *echoNonceVerifier) setNonce(n string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nonce = n
}

func (v *echoNonceVerifier) Verify(_ context.Context, raw string) (map[string]any, error) {
	if raw != "good" {
		return nil, errors.New("unknown token")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]any{"sub": "uid-linus", "email": "linus@example.com", "nonce": v.nonce}, nil
}

func exchangeCode(_ context.Context, code, _ string) (string, error) {
	if code == "bad-code" {
		return "", errors.New("invalid_grant")
	}
	return "good", nil
}

func newLoginServer(t *testing.T) (*Server, *sessionHarness, *echoNonceVerifier) {
	t.Helper()
	v := &echoNonceVerifier{}
	p := identity.NewTestOIDCProvider(identity.OIDCConfig{ClientID: "client"}, v, exchangeCode)
	h := startSession(t, p, nil, true)
	return newTestServer(new(MockStore), h, p, WithBaseURL("https://portal.example.org")), h, v
}

// startLogin loads the login page and returns the state cookie it set.
func startLogin(t *testing.T, srv *Server, v *echoNonceVerifier, redirect string) *http.Cookie {
	t.Helper()
	target := "/login"
	if redirect != "" {
		target += "?redirect=" + url.QueryEscape(redirect)
	}
	rec := serve(srv, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	require.NotNil(t, state, "state cookie not set")

	srv.logins.mu.Lock()
	v.setNonce(srv.logins.entries[state.Value].state.nonce)
	srv.logins.mu.Unlock()
	return state
}

func callback(srv *Server, query url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/login/callback?"+query.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return serve(srv, req)
}

func TestLoginPage(t *testing.T) {
	srv, _, _ := newLoginServer(t)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/login?redirect=/profile", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "https://accounts.google.com/o/oauth2/v2/auth")
	assert.Contains(t, body, "Sign in with Google")
	assert.Contains(t, body, url.QueryEscape("https://portal.example.org/login/callback"))
	assert.Equal(t, 1, srv.logins.Len())
}

func TestLoginCallback_ReturnsToGuardedPage(t *testing.T) {
	srv, h, v := newLoginServer(t)
	state := startLogin(t, srv, v, "/profile")

	rec := callback(srv, url.Values{"state": {state.Value}, "code": {"abc"}}, state)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/profile", rec.Header().Get("Location"))

	cur := h.sessions.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "linus@example.com", cur.Email)
	assert.Equal(t, 0, srv.logins.Len())

	// The guarded page now renders instead of redirecting.
	page := serve(srv, httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "linus@example.com")
}

func TestLoginCallback_DefaultsToHome(t *testing.T) {
	srv, _, v := newLoginServer(t)
	state := startLogin(t, srv, v, "https://evil.example.com/")

	rec := callback(srv, url.Values{"state": {state.Value}, "code": {"abc"}}, state)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
}

func TestLoginCallback_Failures(t *testing.T) {
	tests := []struct {
		name  string
		build func(state *http.Cookie) (url.Values, *http.Cookie)
	}{
		{"provider error", func(c *http.Cookie) (url.Values, *http.Cookie) {
			return url.Values{"error": {"access_denied"}}, c
		}},
		{"state mismatch", func(c *http.Cookie) (url.Values, *http.Cookie) {
			return url.Values{"state": {"forged"}, "code": {"abc"}}, c
		}},
		{"missing cookie", func(c *http.Cookie) (url.Values, *http.Cookie) {
			return url.Values{"state": {c.Value}, "code": {"abc"}}, nil
		}},
		{"missing code", func(c *http.Cookie) (url.Values, *http.Cookie) {
			return url.Values{"state": {c.Value}}, c
		}},
		{"exchange fails", func(c *http.Cookie) (url.Values, *http.Cookie) {
			return url.Values{"state": {c.Value}, "code": {"bad-code"}}, c
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, h, v := newLoginServer(t)
			state := startLogin(t, srv, v, "/profile")

			q, cookie := tt.build(state)
			rec := callback(srv, q, cookie)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, h.sessions.IsAuthenticated())
		})
	}
}

func TestLoginCallback_StateIsSingleUse(t *testing.T) {
	srv, h, v := newLoginServer(t)
	state := startLogin(t, srv, v, "")

	q := url.Values{"state": {state.Value}, "code": {"abc"}}
	assert.Equal(t, http.StatusFound, callback(srv, q, state).Code)
	require.True(t, h.sessions.IsAuthenticated())

	assert.Equal(t, http.StatusUnauthorized, callback(srv, q, state).Code)
}

func TestLogoutPage(t *testing.T) {
	srv, h, v := newLoginServer(t)
	state := startLogin(t, srv, v, "")
	require.Equal(t, http.StatusFound, callback(srv, url.Values{"state": {state.Value}, "code": {"abc"}}, state).Code)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/first", rec.Header().Get("Location"))
	assert.False(t, h.sessions.IsAuthenticated())
}

func TestLoginRoutes_AbsentWithoutCodeFlow(t *testing.T) {
	h, p := signedOut(t)
	srv := newTestServer(new(MockStore), h, p)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
