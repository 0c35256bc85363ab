package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// GoogleIssuer is the issuer used by the Google-flavored provider.
const GoogleIssuer = "https://accounts.google.com"

// ErrNotReady is returned by login operations before provider discovery completes.
var ErrNotReady = errors.New("identity provider is not ready")

// OIDCConfig holds configuration for the OIDC identity provider.
type OIDCConfig struct {
	Issuer         string
	ClientID       string
	ClientSecret   string //nolint:gosec // field name, not a credential
	AllowedDomains []string
	ProviderName   string        // display name for the login page (e.g. "Google", "Okta", "SSO")
	Scopes         []string      // additional scopes beyond "openid" (default: ["profile", "email"])
	RetryBase      time.Duration // first discovery retry delay (default: 500ms)
	RetryCap       time.Duration // longest discovery retry delay (default: 30s)
}

func (c OIDCConfig) scopes() []string {
	scopes := []string{oidc.ScopeOpenID}
	if len(c.Scopes) > 0 {
		scopes = append(scopes, c.Scopes...)
	} else {
		scopes = append(scopes, "profile", "email")
	}
	return scopes
}

// oidcVerifier abstracts ID token verification for both production and tests.
type oidcVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (claims map[string]any, err error)
}

// goOIDCVerifier wraps go-oidc's IDTokenVerifier.
type goOIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *goOIDCVerifier) Verify(ctx context.Context, rawIDToken string) (map[string]any, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	return claims, nil
}

// codeExchanger trades an authorization code for a raw ID token.
type codeExchanger func(ctx context.Context, code, redirectURI string) (rawIDToken string, err error)

// domainCheckFunc validates the user's domain from claims and email.
type domainCheckFunc func(claims map[string]any, email string) error

// OIDCProvider signs users in through an OpenID Connect authorization code
// flow. Discovery runs in Start and is retried until it succeeds; the provider
// then reports its initial signed-out state. Each completed login emits SignedIn.
type OIDCProvider struct {
	notifier
	name        string
	config      OIDCConfig
	domainCheck domainCheckFunc

	// idTokenValidator accepts raw ID tokens minted for this client outside
	// the code flow (Google Sign-In). Nil for generic OIDC.
	idTokenValidator func(ctx context.Context, rawIDToken string) (map[string]any, error)

	mu           sync.RWMutex
	ready        chan struct{}
	verifier     oidcVerifier
	oauth2Config oauth2.Config
	exchange     codeExchanger
	discover     func(ctx context.Context) error
}

// NewOIDCProvider creates a generic OIDC provider. Discovery against the
// issuer is deferred to Start.
func NewOIDCProvider(config OIDCConfig) (*OIDCProvider, error) {
	if config.Issuer == "" || config.ClientID == "" {
		return nil, errors.New("oidc issuer and client id are required")
	}
	if config.ProviderName == "" {
		config.ProviderName = "SSO"
	}
	p := &OIDCProvider{
		name:        "oidc",
		config:      config,
		domainCheck: emailDomainCheck(config.AllowedDomains),
		ready:       make(chan struct{}),
	}
	p.discover = p.discoverIssuer
	return p, nil
}

// NewGoogleProvider creates a Google-flavored OIDC provider. The issuer is
// fixed to accounts.google.com, the domain check uses the "hd" claim, and raw
// Google ID tokens are accepted via SignInWithIDToken.
func NewGoogleProvider(config OIDCConfig) (*OIDCProvider, error) {
	config.Issuer = GoogleIssuer
	if config.ProviderName == "" {
		config.ProviderName = "Google"
	}
	p, err := NewOIDCProvider(config)
	if err != nil {
		return nil, err
	}
	p.name = "google"
	p.domainCheck = googleHDDomainCheck(config.AllowedDomains)
	p.idTokenValidator = func(ctx context.Context, raw string) (map[string]any, error) {
		payload, err := idtoken.Validate(ctx, raw, config.ClientID)
		if err != nil {
			return nil, err
		}
		claims := payload.Claims
		if claims == nil {
			claims = map[string]any{}
		}
		if _, ok := claims["sub"]; !ok {
			claims["sub"] = payload.Subject
		}
		return claims, nil
	}
	return p, nil
}

// TestOIDCVerifier abstracts ID token verification for tests.
type TestOIDCVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (claims map[string]any, err error)
}

// NewTestOIDCProvider creates a provider with injected verification and code
// exchange, skipping discovery. Uses Google endpoints so login redirects look real.
func NewTestOIDCProvider(config OIDCConfig, verifier TestOIDCVerifier, exchange func(ctx context.Context, code, redirectURI string) (string, error)) *OIDCProvider {
	if config.ProviderName == "" {
		config.ProviderName = "Google"
	}
	p := &OIDCProvider{
		name:        "oidc",
		config:      config,
		domainCheck: googleHDDomainCheck(config.AllowedDomains),
		ready:       make(chan struct{}),
		verifier:    verifier,
		exchange:    exchange,
		oauth2Config: oauth2.Config{
			ClientID: config.ClientID,
			Endpoint: oauth2.Endpoint{ //nolint:gosec // test-only Google endpoints, not credentials
				AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
			Scopes: config.scopes(),
		},
	}
	p.idTokenValidator = verifier.Verify
	p.discover = func(context.Context) error { return nil }
	return p
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) Subscribe() (*Subscription, error) { return p.subscribe() }

// Config returns the provider's configuration.
func (p *OIDCProvider) Config() OIDCConfig { return p.config }

// Ready is closed once discovery has completed.
func (p *OIDCProvider) Ready() <-chan struct{} { return p.ready }

// Start runs issuer discovery in the background, retrying with capped
// exponential backoff until it succeeds or ctx ends. Once discovery succeeds
// the provider emits its initial SignedOut.
func (p *OIDCProvider) Start(ctx context.Context) error {
	base := p.config.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	capDur := p.config.RetryCap
	if capDur <= 0 {
		capDur = 30 * time.Second
	}
	backoff := retry.WithCappedDuration(capDur, retry.NewExponential(base))

	go func() {
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := p.discover(ctx); err != nil {
				slog.Warn("oidc discovery failed, retrying", "issuer", p.config.Issuer, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			slog.Error("oidc discovery abandoned", "issuer", p.config.Issuer, "error", err)
			return
		}
		close(p.ready)
		slog.Info("oidc provider ready", "issuer", p.config.Issuer, "provider", p.config.ProviderName)
		if err := p.emit(ctx, SignedOut{}); err != nil {
			slog.Warn("oidc provider: initial state not delivered", "error", err)
		}
	}()
	return nil
}

// discoverIssuer performs go-oidc discovery and installs the verifier and
// oauth2 configuration.
func (p *OIDCProvider) discoverIssuer(ctx context.Context) error {
	provider, err := oidc.NewProvider(ctx, p.config.Issuer)
	if err != nil {
		return fmt.Errorf("oidc discovery for %s: %w", p.config.Issuer, err)
	}

	oauth2Cfg := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       p.config.scopes(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifier = &goOIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: p.config.ClientID})}
	p.oauth2Config = oauth2Cfg
	p.exchange = func(ctx context.Context, code, redirectURI string) (string, error) {
		cfg := oauth2Cfg
		cfg.RedirectURL = redirectURI
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return "", fmt.Errorf("code exchange: %w", err)
		}
		idToken, ok := token.Extra("id_token").(string)
		if !ok || idToken == "" {
			return "", errors.New("no id_token in code exchange response")
		}
		return idToken, nil
	}
	return nil
}

func (p *OIDCProvider) isReady() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// AuthCodeURL builds the provider's authorization URL. It returns the URL and
// a crypto-random nonce that must be passed to CompleteLogin.
func (p *OIDCProvider) AuthCodeURL(redirectURI, state string) (authURL, nonce string, err error) {
	if !p.isReady() {
		return "", "", ErrNotReady
	}
	nonce = generateNonce()
	p.mu.RLock()
	cfg := p.oauth2Config
	p.mu.RUnlock()
	cfg.RedirectURL = redirectURI
	authURL = cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	return authURL, nonce, nil
}

// CompleteLogin exchanges an authorization code, verifies the ID token
// (including its nonce), and emits SignedIn for the verified identity.
func (p *OIDCProvider) CompleteLogin(ctx context.Context, code, redirectURI, expectedNonce string) (SignedIn, error) {
	if !p.isReady() {
		return SignedIn{}, ErrNotReady
	}
	p.mu.RLock()
	exchange, verifier := p.exchange, p.verifier
	p.mu.RUnlock()

	rawIDToken, err := exchange(ctx, code, redirectURI)
	if err != nil {
		return SignedIn{}, err
	}

	claims, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return SignedIn{}, fmt.Errorf("invalid ID token: %w", err)
	}

	if expectedNonce != "" {
		tokenNonce, _ := claims["nonce"].(string)
		if tokenNonce == "" {
			return SignedIn{}, errors.New("ID token missing nonce claim")
		}
		if subtle.ConstantTimeCompare([]byte(expectedNonce), []byte(tokenNonce)) != 1 {
			return SignedIn{}, errors.New("ID token nonce mismatch")
		}
	}

	ev, err := p.identityFromClaims(claims)
	if err != nil {
		return SignedIn{}, err
	}
	if err := p.emit(ctx, ev); err != nil {
		return SignedIn{}, err
	}
	return ev, nil
}

// SignInWithIDToken validates a raw ID token issued to this client outside
// the code flow and emits SignedIn. Only the Google flavor supports it.
func (p *OIDCProvider) SignInWithIDToken(ctx context.Context, rawIDToken string) (SignedIn, error) {
	if p.idTokenValidator == nil {
		return SignedIn{}, ErrNotSupported
	}
	claims, err := p.idTokenValidator(ctx, rawIDToken)
	if err != nil {
		return SignedIn{}, fmt.Errorf("invalid ID token: %w", err)
	}
	ev, err := p.identityFromClaims(claims)
	if err != nil {
		return SignedIn{}, err
	}
	if err := p.emit(ctx, ev); err != nil {
		return SignedIn{}, err
	}
	return ev, nil
}

func (p *OIDCProvider) SignOut(ctx context.Context) error {
	return p.emit(ctx, SignedOut{})
}

// identityFromClaims extracts uid/email and applies the email_verified and
// domain checks.
func (p *OIDCProvider) identityFromClaims(claims map[string]any) (SignedIn, error) {
	uid, _ := claims["sub"].(string)
	if uid == "" {
		return SignedIn{}, errors.New("ID token missing sub claim")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return SignedIn{}, errors.New("ID token missing email claim")
	}

	if emailVerified, ok := claims["email_verified"]; ok {
		if verified, isBool := emailVerified.(bool); isBool && !verified {
			slog.Warn("Login rejected: email not verified", "email", email)
			return SignedIn{}, errors.New("email not verified")
		}
	}

	if p.domainCheck != nil {
		if err := p.domainCheck(claims, email); err != nil {
			slog.Warn("Login rejected: domain check failed", "email", email, "error", err)
			return SignedIn{}, err
		}
	}

	slog.Debug("OIDC ID token validated", "email", email, "provider", p.config.ProviderName)
	return SignedIn{UID: uid, Email: email}, nil
}

// generateNonce generates a 32-byte crypto-random hex nonce.
func generateNonce() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// The login will then fail at nonce validation.
		return ""
	}
	return hex.EncodeToString(b)
}

// --- Domain check strategies ---

// emailDomainCheck validates the email domain suffix against allowed domains.
func emailDomainCheck(allowedDomains []string) domainCheckFunc {
	if len(allowedDomains) == 0 {
		return nil
	}
	return func(_ map[string]any, email string) error {
		parts := strings.SplitN(email, "@", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid email format: %s", email)
		}
		domain := parts[1]
		for _, d := range allowedDomains {
			if strings.EqualFold(d, domain) {
				return nil
			}
		}
		return fmt.Errorf("domain %q not in allowed domains", domain)
	}
}

// googleHDDomainCheck validates the Google "hd" (hosted domain) claim.
func googleHDDomainCheck(allowedDomains []string) domainCheckFunc {
	if len(allowedDomains) == 0 {
		return nil
	}
	return func(claims map[string]any, _ string) error {
		hd, _ := claims["hd"].(string)
		for _, d := range allowedDomains {
			if strings.EqualFold(d, hd) {
				return nil
			}
		}
		return fmt.Errorf("domain %q not in allowed domains", hd)
	}
}
