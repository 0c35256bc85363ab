package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/mail"
	"github.com/nutripublic/portal/internal/profile"
	"github.com/nutripublic/portal/internal/session"
	"github.com/nutripublic/portal/internal/storage"
)

func init() {
	audit.Enabled = false
}

type MockStore struct {
	mock.Mock
	storage.Store
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context) ([]storage.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.Event), args.Error(1)
}

func (m *MockStore) CreateEvent(ctx context.Context, e *storage.Event) error {
	args := m.Called(ctx, e)
	if e.ID == "" {
		e.ID = "evt-1"
	}
	return args.Error(0)
}

func (m *MockStore) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockStore) UpsertUser(ctx context.Context, u *storage.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

// profileMap is a profile.Lookup over a fixed map.
type profileMap map[string]*profile.Record

func (p profileMap) FindProfileByEmail(_ context.Context, email string) (*profile.Record, error) {
	return p[email].Clone(), nil
}

// recordingMailer keeps every message it is asked to send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// recordingInvalidator records profile cache invalidations.
type recordingInvalidator struct {
	mu     sync.Mutex
	emails []string
}

func (r *recordingInvalidator) Invalidate(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, email)
}

// sessionHarness runs the real session pipeline behind a provider.
type sessionHarness struct {
	sessions *session.Store
	gate     *session.Gate
}

// startSession wires provider to a Synchronizer and starts it. When
// waitSettled is set it returns once the provider's first report is applied.
func startSession(t *testing.T, provider identity.Provider, lookup profile.Lookup, waitSettled bool) *sessionHarness {
	t.Helper()
	sub, err := provider.Subscribe()
	require.NoError(t, err)

	h := &sessionHarness{sessions: session.NewStore(), gate: session.NewGate()}
	synchronizer := session.NewSynchronizer(h.sessions, h.gate, session.NewEnricher(lookup, time.Second), sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = synchronizer.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sub.Close()
	})

	require.NoError(t, provider.Start(ctx))
	if waitSettled {
		select {
		case <-h.gate.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("session never initialized")
		}
	}
	return h
}

// signedOut returns a settled, signed-out session.
func signedOut(t *testing.T) (*sessionHarness, *identity.StaticProvider) {
	t.Helper()
	p := identity.NewStaticProvider("", "")
	return startSession(t, p, nil, true), p
}

// signedIn returns a settled session for email, enriched from profiles when
// a record exists.
func signedIn(t *testing.T, uid, email string, profiles profileMap) (*sessionHarness, *identity.StaticProvider) {
	t.Helper()
	p := identity.NewStaticProvider(uid, email)
	h := startSession(t, p, profiles, true)
	want := profiles[email]
	require.Eventually(t, func() bool {
		cur := h.sessions.Current()
		return cur != nil && (want == nil || cur.Username == want.Username)
	}, 5*time.Second, 5*time.Millisecond)
	return h, p
}

func newTestServer(store storage.Store, h *sessionHarness, provider identity.Provider, opts ...ServerOption) *Server {
	opts = append([]ServerOption{WithSignInWait(2 * time.Second)}, opts...)
	return NewServer(store, h.sessions, h.gate, provider, opts...)
}

// serve runs req through the full router.
func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func float(v float64) *float64 { return &v }
