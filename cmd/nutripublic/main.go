package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"

	"github.com/nutripublic/portal/internal/api"
	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/config"
	"github.com/nutripublic/portal/internal/guard"
	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/mail"
	"github.com/nutripublic/portal/internal/profile"
	"github.com/nutripublic/portal/internal/session"
	"github.com/nutripublic/portal/internal/storage"
)

func main() {
	cfg := config.Parse()

	// Configure logging format and level.
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(logHandler))

	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	instanceID, err := ensureInstanceID(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read instance id: %v\n", err)
		os.Exit(1)
	}

	// Profile lookups go through an LRU cache unless disabled.
	var lookup profile.Lookup = store
	serverOpts := []api.ServerOption{}
	if cfg.ProfileCacheTTL > 0 {
		cache := profile.NewCache(store, cfg.ProfileCacheSize, cfg.ProfileCacheTTL)
		lookup = cache
		serverOpts = append(serverOpts, api.WithProfileCache(cache))
		slog.Info("profile cache enabled", "size", cfg.ProfileCacheSize, "ttl", cfg.ProfileCacheTTL)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create identity provider: %v\n", err)
		os.Exit(1)
	}
	sub, err := provider.Subscribe()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to subscribe to identity provider: %v\n", err)
		os.Exit(1)
	}

	sessions := session.NewStore()
	gate := session.NewGate()
	synchronizer := session.NewSynchronizer(sessions, gate, session.NewEnricher(lookup, cfg.ProfileLookupTimeout), sub)
	session.RegisterStateGauges(sessions, gate)

	// Route table and navigation guard.
	routes := guard.DefaultRoutes()
	if cfg.RoutesPath != "" {
		routes, err = guard.LoadRoutes(cfg.RoutesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load routes: %v\n", err)
			os.Exit(1)
		}
		slog.Info("routes loaded", "path", cfg.RoutesPath, "count", len(routes.Routes))
	}
	if cfg.LandingRoute != "" {
		routes, err = routes.WithLanding(cfg.LandingRoute)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid landing route: %v\n", err)
			os.Exit(1)
		}
	}
	serverOpts = append(serverOpts, api.WithGuard(guard.New(gate, sessions, routes)))

	// Outbound email.
	if cfg.SendGridAPIKey != "" {
		sender, err := mail.NewSendGridSender(mail.SendGridConfig{
			APIKey:   cfg.SendGridAPIKey,
			FromAddr: cfg.MailFrom,
			FromName: cfg.MailFromName,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create SendGrid sender: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithMailer(sender))
		slog.Info("email delivery: sendgrid", "from", cfg.MailFrom)
	} else {
		slog.Warn("email delivery disabled, messages will be logged", "hint", "set --sendgrid-api-key")
	}

	if cfg.BaseURL != "" {
		serverOpts = append(serverOpts, api.WithBaseURL(cfg.BaseURL))
		slog.Info("base URL configured", "url", cfg.BaseURL)
	}

	// Initialize OpenTelemetry tracing if configured.
	var tp *sdktrace.TracerProvider
	if cfg.OTelServiceName != "" {
		tp, err = initTracer(context.Background(), cfg.OTelServiceName, instanceID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize OpenTelemetry: %v\n", err)
			os.Exit(1)
		}
		slog.Info("OpenTelemetry tracing enabled", "service", cfg.OTelServiceName)
	}

	// When management-addr is set, health/metrics move to a separate server.
	if cfg.ManagementAddr != "" {
		serverOpts = append(serverOpts, api.WithSkipManagementRoutes())
	}

	srv := api.NewServer(store, sessions, gate, provider, serverOpts...)

	handler := srv.Router()
	if tp != nil {
		handler = otelhttp.NewHandler(handler, "nutripublic")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           srv.ManagementHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// The synchronizer must be consuming before the provider reports.
	g.Go(func() error {
		if err := synchronizer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("session synchronizer: %w", err)
		}
		return nil
	})
	if err := provider.Start(gctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start identity provider: %v\n", err)
		os.Exit(1)
	}
	g.Go(func() error {
		select {
		case <-gate.Done():
			slog.Info("session initialized", "authenticated", sessions.IsAuthenticated())
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("nutripublic portal starting", "addr", cfg.Addr, "auth_mode", provider.Name(), "instance", instanceID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if mgmtServer != nil {
		g.Go(func() error {
			slog.Info("management server starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("management server: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown on SIGINT/SIGTERM or when any component fails.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		// Give in-flight requests 30 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if mgmtServer != nil {
			if err := mgmtServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("management server shutdown error", "error", err)
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("server error", "error", runErr)
	}

	sub.Close()
	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("tracer provider shutdown error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		slog.Error("close database", "error", err)
	}
	slog.Info("shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}

// newProvider builds the identity provider for the configured auth mode.
func newProvider(cfg *config.Config) (identity.Provider, error) {
	switch cfg.AuthMode {
	case config.AuthOIDC:
		p, err := identity.NewOIDCProvider(oidcConfig(cfg))
		if err != nil {
			return nil, err
		}
		slog.Info("auth mode: oidc",
			"issuer", cfg.OIDCIssuer,
			"client_id", cfg.OIDCClientID,
			"provider_name", cfg.OIDCProviderName,
		)
		return p, nil

	case config.AuthGoogle:
		p, err := identity.NewGoogleProvider(oidcConfig(cfg))
		if err != nil {
			return nil, err
		}
		slog.Info("auth mode: google", "client_id", cfg.OIDCClientID)
		return p, nil

	case config.AuthJWT:
		p, err := identity.NewJWTProvider(identity.JWTConfig{
			SigningKey: cfg.JWTSigningKey,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			UIDClaim:   cfg.JWTUIDClaim,
			EmailClaim: cfg.JWTEmailClaim,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("auth mode: jwt",
			"issuer", cfg.JWTIssuer,
			"audience", cfg.JWTAudience,
			"uid_claim", cfg.JWTUIDClaim,
			"email_claim", cfg.JWTEmailClaim,
		)
		return p, nil

	default:
		slog.Info("auth mode: static", "signed_in", cfg.StaticEmail != "")
		return identity.NewStaticProvider(cfg.StaticUID, cfg.StaticEmail), nil
	}
}

func oidcConfig(cfg *config.Config) identity.OIDCConfig {
	return identity.OIDCConfig{
		Issuer:         cfg.OIDCIssuer,
		ClientID:       cfg.OIDCClientID,
		ClientSecret:   cfg.OIDCClientSecret,
		AllowedDomains: cfg.AllowedDomains(),
		ProviderName:   cfg.OIDCProviderName,
		Scopes:         cfg.Scopes(),
	}
}

// ensureInstanceID returns this database's instance id, creating one on first run.
func ensureInstanceID(store storage.Store) (string, error) {
	ctx := context.Background()
	id, ok, err := store.GetConfig(ctx, "instance_id")
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := store.SetConfig(ctx, "instance_id", id); err != nil {
		return "", err
	}
	slog.Info("new database initialized", "instance", id)
	return id, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initTracer sets up an OTLP HTTP trace exporter and returns the TracerProvider.
// Exporter endpoint is configured via the standard OTEL_EXPORTER_OTLP_ENDPOINT
// env var (default: localhost:4318).
func initTracer(ctx context.Context, serviceName, instanceID string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceInstanceIDKey.String(instanceID),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
