package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds configuration for the JWT identity provider.
type JWTConfig struct {
	SigningKey string // raw HMAC secret string OR path to PEM public key file
	Issuer     string // expected "iss" claim (empty = don't verify)
	Audience   string // expected "aud" claim (empty = don't verify)
	UIDClaim   string // claim holding the stable user id (default: "sub")
	EmailClaim string // claim holding the email (default: "email")
}

// JWTProvider signs users in from externally issued, signed JWTs.
// It starts signed out; each accepted token emits SignedIn.
type JWTProvider struct {
	notifier
	config     JWTConfig
	parserOpts []jwt.ParserOption
	keyFunc    jwt.Keyfunc
}

// NewJWTProvider creates a JWT provider with auto-detected key type.
// If SigningKey is a path to a PEM file, RSA or ECDSA public key is used.
// Otherwise, the raw string is treated as an HMAC-SHA256 secret.
func NewJWTProvider(config JWTConfig) (*JWTProvider, error) {
	if config.SigningKey == "" {
		return nil, errors.New("jwt signing key is required")
	}
	if config.UIDClaim == "" {
		config.UIDClaim = "sub"
	}
	if config.EmailClaim == "" {
		config.EmailClaim = "email"
	}

	signingKey, validMethods, err := parseSigningKey(config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		method := token.Method.Alg()
		for _, m := range validMethods {
			if method == m {
				return signingKey, nil
			}
		}
		return nil, fmt.Errorf("unexpected signing method: %s", method)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(config.Audience))
	}

	return &JWTProvider{
		config:     config,
		parserOpts: parserOpts,
		keyFunc:    keyFunc,
	}, nil
}

// parseSigningKey auto-detects the key type from the input.
// Returns the parsed key and the list of valid signing methods.
func parseSigningKey(input string) (any, []string, error) {
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		pemBytes, err := os.ReadFile(input)
		if err != nil {
			return nil, nil, fmt.Errorf("read PEM file: %w", err)
		}

		if key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"RS256", "RS384", "RS512"}, nil
		}
		if key, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"ES256", "ES384", "ES512"}, nil
		}
		return nil, nil, errors.New("PEM file contains no recognized RSA or ECDSA public key")
	}

	return []byte(input), []string{"HS256", "HS384", "HS512"}, nil
}

func (p *JWTProvider) Name() string { return "jwt" }

func (p *JWTProvider) Subscribe() (*Subscription, error) { return p.subscribe() }

// Start reports the initial signed-out state.
func (p *JWTProvider) Start(ctx context.Context) error {
	go func() {
		_ = p.emit(ctx, SignedOut{})
	}()
	return nil
}

func (p *JWTProvider) SignOut(ctx context.Context) error {
	return p.emit(ctx, SignedOut{})
}

// Validate parses and verifies a JWT, returning the identity it carries.
func (p *JWTProvider) Validate(tokenString string) (SignedIn, error) {
	token, err := jwt.Parse(tokenString, p.keyFunc, p.parserOpts...)
	if err != nil {
		return SignedIn{}, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return SignedIn{}, errors.New("invalid JWT claims")
	}

	uid, err := extractStringClaim(claims, p.config.UIDClaim)
	if err != nil {
		return SignedIn{}, fmt.Errorf("JWT missing %s claim: %w", p.config.UIDClaim, err)
	}
	email, err := extractStringClaim(claims, p.config.EmailClaim)
	if err != nil {
		return SignedIn{}, fmt.Errorf("JWT missing %s claim: %w", p.config.EmailClaim, err)
	}

	return SignedIn{UID: uid, Email: email}, nil
}

// SignIn validates tokenString and, when valid, emits SignedIn.
func (p *JWTProvider) SignIn(ctx context.Context, tokenString string) (SignedIn, error) {
	ev, err := p.Validate(tokenString)
	if err != nil {
		return SignedIn{}, err
	}
	if err := p.emit(ctx, ev); err != nil {
		return SignedIn{}, err
	}
	return ev, nil
}

// extractStringClaim returns a string claim value, or an error if missing/empty.
func extractStringClaim(claims jwt.MapClaims, key string) (string, error) {
	v, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("claim %q not found", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("claim %q is not a non-empty string", key)
	}
	return s, nil
}
