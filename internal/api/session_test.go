package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/session"
)

func TestGetSession_SignedIn(t *testing.T) {
	profiles := profileMap{"ada@example.com": {Username: "Ada", Role: "admin", Rating: float(4)}}
	h, p := signedIn(t, "uid-ada", "ada@example.com", profiles)
	srv := newTestServer(new(MockStore), h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerSession(api)

	resp := api.Get("/api/session")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{
		"initialized": true,
		"isAuthenticated": true,
		"session": {"uid":"uid-ada","email":"ada@example.com","username":"Ada","role":"admin","rating":4}
	}`, resp.Body.String())
}

func TestGetSession_SignedOut(t *testing.T) {
	h, p := signedOut(t)
	srv := newTestServer(new(MockStore), h, p)
	_, api := humatest.New(t, newHumaConfig())
	srv.registerSession(api)

	resp := api.Get("/api/session?wait=true")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"initialized":true,"isAuthenticated":false}`, resp.Body.String())
}

func TestGetSession_NotInitialized(t *testing.T) {
	h := &sessionHarness{sessions: session.NewStore(), gate: session.NewGate()}
	srv := newTestServer(new(MockStore), h, identity.NewStaticProvider("", ""))
	_, api := humatest.New(t, newHumaConfig())
	srv.registerSession(api)

	resp := api.Get("/api/session")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"initialized":false,"isAuthenticated":false}`, resp.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/session?wait=true", nil).WithContext(ctx)
	rec := serve(srv, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogout(t *testing.T) {
	h, p := signedIn(t, "uid-ada", "ada@example.com", nil)
	srv := newTestServer(new(MockStore), h, p)

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/session/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	snap := h.sessions.Snapshot()
	assert.False(t, snap.IsAuthenticated)
	assert.Nil(t, snap.Current)
}

func TestLogout_WhenSignedOut(t *testing.T) {
	h, p := signedOut(t)
	srv := newTestServer(new(MockStore), h, p)

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/session/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, h.sessions.Snapshot().IsAuthenticated)
}

// readData returns the payload of the next "data:" line on an event stream.
func readData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return strings.TrimSpace(data)
		}
	}
}

func TestSessionStream(t *testing.T) {
	profiles := profileMap{"ada@example.com": {Username: "Ada"}}
	h, p := signedIn(t, "uid-ada", "ada@example.com", profiles)
	srv := newTestServer(new(MockStore), h, p)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/session/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	assert.JSONEq(t, `{"isAuthenticated":true,"session":{"uid":"uid-ada","email":"ada@example.com","username":"Ada"}}`, readData(t, r))

	require.NoError(t, p.SignOut(ctx))
	assert.JSONEq(t, `{"isAuthenticated":false}`, readData(t, r))
}

func TestSessionStream_WaitsForGate(t *testing.T) {
	p := identity.NewStaticProvider("", "")
	h := startSession(t, p, nil, false)
	srv := newTestServer(new(MockStore), h, p)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/session/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// The first event always reflects a settled state.
	assert.JSONEq(t, `{"isAuthenticated":false}`, readData(t, bufio.NewReader(resp.Body)))
	assert.True(t, h.gate.Settled())
}
