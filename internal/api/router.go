package api

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/guard"
	"github.com/nutripublic/portal/internal/gziputil"
	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/mail"
	"github.com/nutripublic/portal/internal/session"
	"github.com/nutripublic/portal/internal/storage"
)

// maxRequestBody caps decompressed request bodies.
const maxRequestBody = 8 << 20

// profileInvalidator drops cached profile lookups after a profile write.
type profileInvalidator interface {
	Invalidate(email string)
}

// Server is the portal's HTTP server: the JSON API, login flow and guarded pages.
type Server struct {
	store    storage.Store
	sessions *session.Store
	gate     *session.Gate
	provider identity.Provider
	guard    *guard.Guard
	mailer   mail.Sender
	profiles profileInvalidator // nil = no profile cache
	humaAPI  huma.API
	logins   *loginStateStore

	baseURL              string        // external URL for login callbacks; empty = derive from request
	skipManagementRoutes bool          // health/metrics served by a separate listener
	signInWait           time.Duration // how long sign-in endpoints wait for the session to update
}

// NewServer creates a new server.
func NewServer(store storage.Store, sessions *session.Store, gate *session.Gate, provider identity.Provider, opts ...ServerOption) *Server {
	s := &Server{
		store:      store,
		sessions:   sessions,
		gate:       gate,
		provider:   provider,
		mailer:     mail.LogSender{},
		logins:     newLoginStateStore(5 * time.Minute),
		signInWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = guard.New(gate, sessions, nil)
	}
	return s
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithGuard sets the navigation guard for page routes.
func WithGuard(g *guard.Guard) ServerOption {
	return func(s *Server) { s.guard = g }
}

// WithMailer sets the email sender. The default logs messages instead of sending.
func WithMailer(m mail.Sender) ServerOption {
	return func(s *Server) { s.mailer = m }
}

// WithProfileCache sets the cache invalidated when a profile is updated.
func WithProfileCache(c profileInvalidator) ServerOption {
	return func(s *Server) { s.profiles = c }
}

// WithBaseURL sets the external URL used to build login callback URLs.
func WithBaseURL(u string) ServerOption {
	return func(s *Server) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithSkipManagementRoutes leaves /healthz, /readyz and /metrics to ManagementHandler.
func WithSkipManagementRoutes() ServerOption {
	return func(s *Server) { s.skipManagementRoutes = true }
}

// WithSignInWait sets how long sign-in endpoints wait for the session store
// to reflect a successful sign-in before responding.
func WithSignInWait(d time.Duration) ServerOption {
	return func(s *Server) { s.signInWait = d }
}

// humaJSONFormat uses stdlib encoding/json for huma request/response serialization.
var humaJSONFormat = huma.Format{
	Marshal: func(w io.Writer, v any) error {
		return stdjson.NewEncoder(w).Encode(v)
	},
	Unmarshal: stdjson.Unmarshal,
}

// newHumaConfig creates the huma configuration for the API.
func newHumaConfig() huma.Config {
	registry := huma.NewMapRegistry("#/components/schemas/", huma.DefaultSchemaNamer)
	config := huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:   "NutriPublic Portal API",
				Version: "0.1.0",
			},
			Components: &huma.Components{
				Schemas: registry,
			},
		},
		OpenAPIPath:   "", // served by getOpenAPISpec
		DocsPath:      "",
		SchemasPath:   "",
		Formats:       map[string]huma.Format{"application/json": humaJSONFormat, "json": humaJSONFormat},
		DefaultFormat: "application/json",
	}
	config.AllowAdditionalPropertiesByDefault = true
	// Missing body fields are validated by the handlers so the error
	// message matches what the portal frontend expects.
	config.FieldsOptionalByDefault = true
	return config
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Router returns the configured HTTP handler with all endpoints.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	api := humago.New(mux, newHumaConfig())
	api.UseMiddleware(metricsHumaMiddleware)
	api.UseMiddleware(s.auditHumaMiddleware)
	s.humaAPI = api

	if !s.skipManagementRoutes {
		s.registerManagement(api)
	}
	s.registerOpenAPI(api)
	s.registerSession(api)
	s.registerAuth(api)
	s.registerEvents(api)
	s.registerUsers(api)
	s.registerEmail(api)

	// HTML routes live on the raw mux.
	s.registerLoginPage(mux)
	s.registerPages(mux)

	// HTTP-level middleware (outermost applied last).
	var handler http.Handler = mux
	handler = gzipDecompressor(handler)
	handler = gzipCompressor(handler)
	handler = requestLogger(handler)
	handler = recoverer(handler)
	handler = withRemoteAddr(handler)
	handler = realIP(handler)
	return handler
}

// ManagementHandler serves /healthz, /readyz and /metrics for a separate
// management listener.
func (s *Server) ManagementHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "error", "reason": err.Error()})
			return
		}
		_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", MetricsHandler())
	return mux
}

var (
	errNotInitialized = errors.New("identity provider has not reported yet")
	errDatabase       = errors.New("database unavailable")
)

// ready reports whether the server can answer requests with a settled session.
func (s *Server) ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("readiness: database ping failed", "error", err)
		return errDatabase
	}
	if !s.gate.Settled() {
		return errNotInitialized
	}
	return nil
}

func (s *Server) registerManagement(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
		out := &HealthCheckOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "readinessCheck",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*ReadinessOutput, error) {
		if err := s.ready(ctx); err != nil {
			return nil, huma.Error503ServiceUnavailable(err.Error())
		}
		out := &ReadinessOutput{}
		out.Body.Status = "ok"
		out.Body.Database = "ok"
		out.Body.Initialized = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getMetrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				rec := httptest.NewRecorder()
				MetricsHandler().ServeHTTP(rec, &http.Request{})
				for k, vals := range rec.Header() {
					for _, v := range vals {
						ctx.SetHeader(k, v)
					}
				}
				_, _ = ctx.BodyWriter().Write(rec.Body.Bytes())
			},
		}, nil
	})
}

func (s *Server) registerOpenAPI(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getOpenAPISpec",
		Method:      http.MethodGet,
		Path:        "/api/openapi",
		Tags:        []string{"Meta"},
	}, func(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/json")
				data, _ := stdjson.Marshal(s.humaAPI.OpenAPI())
				_, _ = ctx.BodyWriter().Write(data)
			},
		}, nil
	})
}

type sessionKey struct{}

// sessionFromContext returns the session attached by requireSession.
func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

// requireSession returns a huma middleware that waits for the initial
// sign-in state and rejects the request with 401 when no user is signed in.
func (s *Server) requireSession(api huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		select {
		case <-s.gate.Done():
		case <-ctx.Context().Done():
			return
		}
		sess := s.sessions.Current()
		if sess == nil {
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "sign-in required")
			return
		}
		next(huma.WithContext(ctx, context.WithValue(ctx.Context(), sessionKey{}, sess)))
	}
}

// actor names the signed-in user for audit entries.
func (s *Server) actor() string {
	if sess := s.sessions.Current(); sess != nil {
		return sess.Email
	}
	return audit.Anonymous
}

// metricsHumaMiddleware records Prometheus metrics for each huma request using
// the operation path as the route label.
func metricsHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)
	elapsed := time.Since(start)

	route := ctx.Operation().Path
	status := ctx.Status()
	if status == 0 {
		status = 200
	}

	httpRequestsTotal.WithLabelValues(ctx.Method(), route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(ctx.Method(), route).Observe(elapsed.Seconds())
}

// auditExcludedOps are mutating operations that write their own, richer audit entries.
var auditExcludedOps = map[string]struct{}{
	"sendEmail":    {},
	"tokenSignIn":  {},
	"googleSignIn": {},
	"logout":       {},
}

// auditHumaMiddleware logs structured audit entries for state-mutating API operations.
func (s *Server) auditHumaMiddleware(ctx huma.Context, next func(huma.Context)) {
	next(ctx)

	method := ctx.Method()
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return
	}
	op := ctx.Operation()
	if _, excluded := auditExcludedOps[op.OperationID]; excluded {
		return
	}

	status := ctx.Status()
	if status == 0 {
		status = 200
	}
	e := audit.Event{
		Actor:      s.actor(),
		Action:     op.OperationID,
		Method:     method,
		Resource:   ctx.URL().Path,
		HTTPStatus: status,
		IP:         ctx.RemoteAddr(),
	}
	if status >= 400 {
		e.Warn("Audit Log: API Request")
	} else {
		e.Info("Audit Log: API Request")
	}
}

// requestLogger logs each HTTP request with method, path, status, and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		slog.Info("request", //nolint:gosec // structured logger, not format string
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency", time.Since(start),
		)
	})
}

// realIP extracts the real client IP from X-Real-Ip or X-Forwarded-For headers.
func realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rip := r.Header.Get("X-Real-Ip"); rip != "" {
			r.RemoteAddr = rip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				r.RemoteAddr = strings.TrimSpace(xff[:i])
			} else {
				r.RemoteAddr = xff
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer recovers from panics and returns a 500 Internal Server Error.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rvr)
				}
				slog.Error("panic recovered", "error", rvr, "method", r.Method, "path", r.URL.Path) //nolint:gosec // structured logger, not format string
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// gzipDecompressor transparently decompresses gzip request bodies.
func gzipDecompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			body, err := gziputil.NewBodyReader(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid gzip body")
				return
			}
			r.Body = http.MaxBytesReader(w, body, maxRequestBody)
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		next.ServeHTTP(w, r)
	})
}
