package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Auth modes.
const (
	AuthStatic = "static"
	AuthOIDC   = "oidc"
	AuthGoogle = "google"
	AuthJWT    = "jwt"
)

const envPrefix = "NUTRIPUBLIC_"

// Config holds all server configuration.
type Config struct {
	Addr           string // listen address, e.g. ":8080"
	ManagementAddr string // separate listener for /healthz, /readyz, /metrics (empty = serve on Addr)
	DBPath         string // path to SQLite database file
	BaseURL        string // external URL used to build login callback URLs (empty = derive from request)

	// Pages.
	RoutesPath   string // route table YAML (empty = built-in table)
	LandingRoute string // overrides the table's landing route when set

	// Profile enrichment.
	ProfileCacheTTL      time.Duration // 0 disables the profile cache
	ProfileCacheSize     int
	ProfileLookupTimeout time.Duration

	// Auth mode: "static" (default), "oidc", "google", or "jwt".
	AuthMode string
	// Static mode: the identity reported at startup (empty email = signed out).
	StaticUID   string
	StaticEmail string
	// OIDC / Google settings.
	OIDCIssuer         string
	OIDCClientID       string
	OIDCClientSecret   string
	OIDCAllowedDomains string // comma-separated
	OIDCScopes         string // comma-separated, beyond openid
	OIDCProviderName   string
	// JWT settings.
	JWTSigningKey string // HMAC secret or path to PEM public key
	JWTIssuer     string
	JWTAudience   string
	JWTUIDClaim   string
	JWTEmailClaim string

	// Mail.
	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	// Observability.
	OTelServiceName string // enables OTLP tracing when set
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	AuditLogs       bool
}

// Parse reads configuration from the process flags and environment.
func Parse() *Config {
	c, err := ParseArgs(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	return c
}

// ParseArgs registers the flags on fs, parses args, then applies
// NUTRIPUBLIC_* environment overrides looked up through getenv.
func ParseArgs(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	c := &Config{}
	fs.StringVar(&c.Addr, "addr", ":8080", "listen address")
	fs.StringVar(&c.ManagementAddr, "management-addr", "", "listen address for health and metrics (empty = main listener)")
	fs.StringVar(&c.DBPath, "db", "nutripublic.db", "SQLite database path")
	fs.StringVar(&c.BaseURL, "base-url", "", "external base URL for login callbacks (empty = derive from request)")

	fs.StringVar(&c.RoutesPath, "routes", "", "path to routes.yaml (empty = built-in routes)")
	fs.StringVar(&c.LandingRoute, "landing-route", "", "route unauthenticated visitors are sent to (default from route table)")

	fs.DurationVar(&c.ProfileCacheTTL, "profile-cache-ttl", time.Minute, "profile cache TTL (0 = disabled)")
	fs.IntVar(&c.ProfileCacheSize, "profile-cache-size", 1024, "max cached profiles")
	fs.DurationVar(&c.ProfileLookupTimeout, "profile-lookup-timeout", 5*time.Second, "timeout for one profile lookup")

	fs.StringVar(&c.AuthMode, "auth-mode", AuthStatic, "identity provider: static, oidc, google, or jwt")
	fs.StringVar(&c.StaticUID, "static-uid", "", "uid reported in static mode (default: the email)")
	fs.StringVar(&c.StaticEmail, "static-email", "", "email reported in static mode (empty = signed out)")
	fs.StringVar(&c.OIDCIssuer, "oidc-issuer", "", "OIDC provider discovery URL (required for oidc mode)")
	fs.StringVar(&c.OIDCClientID, "oidc-client-id", "", "OAuth2 client ID")
	fs.StringVar(&c.OIDCClientSecret, "oidc-client-secret", "", "OAuth2 client secret")
	fs.StringVar(&c.OIDCAllowedDomains, "oidc-allowed-domains", "", "comma-separated allowed email domains")
	fs.StringVar(&c.OIDCScopes, "oidc-scopes", "profile,email", "additional OIDC scopes beyond openid")
	fs.StringVar(&c.OIDCProviderName, "oidc-provider-name", "", "display name for the login page")
	fs.StringVar(&c.JWTSigningKey, "jwt-signing-key", "", "HMAC secret or path to PEM public key for JWT verification")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "expected JWT issuer claim (optional)")
	fs.StringVar(&c.JWTAudience, "jwt-audience", "", "expected JWT audience claim (optional)")
	fs.StringVar(&c.JWTUIDClaim, "jwt-uid-claim", "sub", "JWT claim holding the user id")
	fs.StringVar(&c.JWTEmailClaim, "jwt-email-claim", "email", "JWT claim holding the email")

	fs.StringVar(&c.SendGridAPIKey, "sendgrid-api-key", "", "SendGrid API key (empty = log emails instead of sending)")
	fs.StringVar(&c.MailFrom, "mail-from", "", "sender address for outbound email")
	fs.StringVar(&c.MailFromName, "mail-from-name", "NutriPublic Admin", "sender display name")

	fs.StringVar(&c.OTelServiceName, "otel-service-name", "", "service name for OTLP tracing (empty = disabled)")
	fs.StringVar(&c.LogFormat, "log-format", "json", "log format: json or text")
	fs.StringVar(&c.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.BoolVar(&c.AuditLogs, "audit-logs", true, "enable structured audit logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := envReader{getenv: getenv}
	env.str("ADDR", &c.Addr)
	env.str("MANAGEMENT_ADDR", &c.ManagementAddr)
	env.str("DB", &c.DBPath)
	env.str("BASE_URL", &c.BaseURL)
	env.str("ROUTES", &c.RoutesPath)
	env.str("LANDING_ROUTE", &c.LandingRoute)
	env.duration("PROFILE_CACHE_TTL", &c.ProfileCacheTTL)
	env.integer("PROFILE_CACHE_SIZE", &c.ProfileCacheSize)
	env.duration("PROFILE_LOOKUP_TIMEOUT", &c.ProfileLookupTimeout)
	env.str("AUTH_MODE", &c.AuthMode)
	env.str("STATIC_UID", &c.StaticUID)
	env.str("STATIC_EMAIL", &c.StaticEmail)
	env.str("OIDC_ISSUER", &c.OIDCIssuer)
	env.str("OIDC_CLIENT_ID", &c.OIDCClientID)
	env.str("OIDC_CLIENT_SECRET", &c.OIDCClientSecret)
	env.str("OIDC_ALLOWED_DOMAINS", &c.OIDCAllowedDomains)
	env.str("OIDC_SCOPES", &c.OIDCScopes)
	env.str("OIDC_PROVIDER_NAME", &c.OIDCProviderName)
	env.str("JWT_SIGNING_KEY", &c.JWTSigningKey)
	env.str("JWT_ISSUER", &c.JWTIssuer)
	env.str("JWT_AUDIENCE", &c.JWTAudience)
	env.str("JWT_UID_CLAIM", &c.JWTUIDClaim)
	env.str("JWT_EMAIL_CLAIM", &c.JWTEmailClaim)
	env.str("SENDGRID_API_KEY", &c.SendGridAPIKey)
	env.str("MAIL_FROM", &c.MailFrom)
	env.str("MAIL_FROM_NAME", &c.MailFromName)
	env.str("OTEL_SERVICE_NAME", &c.OTelServiceName)
	env.str("LOG_FORMAT", &c.LogFormat)
	env.str("LOG_LEVEL", &c.LogLevel)
	if v := getenv(envPrefix + "AUDIT_LOGS"); v == "false" {
		c.AuditLogs = false
	}
	if env.err != nil {
		return nil, env.err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the settings required by the chosen auth mode are present.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case AuthStatic:
	case AuthOIDC:
		if c.OIDCIssuer == "" || c.OIDCClientID == "" {
			return errors.New("oidc mode requires -oidc-issuer and -oidc-client-id")
		}
	case AuthGoogle:
		if c.OIDCClientID == "" {
			return errors.New("google mode requires -oidc-client-id")
		}
	case AuthJWT:
		if c.JWTSigningKey == "" {
			return errors.New("jwt mode requires -jwt-signing-key")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.AuthMode)
	}
	if c.SendGridAPIKey != "" && c.MailFrom == "" {
		return errors.New("-mail-from is required when -sendgrid-api-key is set")
	}
	if c.LandingRoute != "" && !strings.HasPrefix(c.LandingRoute, "/") {
		return fmt.Errorf("landing route %q must be an absolute path", c.LandingRoute)
	}
	return nil
}

// AllowedDomains returns the parsed -oidc-allowed-domains list.
func (c *Config) AllowedDomains() []string { return splitList(c.OIDCAllowedDomains) }

// Scopes returns the parsed -oidc-scopes list.
func (c *Config) Scopes() []string { return splitList(c.OIDCScopes) }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader applies NUTRIPUBLIC_* overrides, keeping the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(name string, dst *string) {
	if v := e.getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v := e.getenv(envPrefix + name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = d
}

func (e *envReader) integer(name string, dst *int) {
	v := e.getenv(envPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
}
