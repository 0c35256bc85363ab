package identity

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier returns canned claims for a known raw token.
type fakeVerifier struct {
	claims map[string]map[string]any
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (map[string]any, error) {
	c, ok := f.claims[raw]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return c, nil
}

// exchangeTo returns a code exchanger that maps every code to the same raw token.
func exchangeTo(raw string) func(context.Context, string, string) (string, error) {
	return func(_ context.Context, code, _ string) (string, error) {
		if code == "bad-code" {
			return "", errors.New("invalid_grant")
		}
		return raw, nil
	}
}

func startedTestProvider(t *testing.T, cfg OIDCConfig, v *fakeVerifier, raw string) (*OIDCProvider, *Subscription) {
	t.Helper()
	p := NewTestOIDCProvider(cfg, v, exchangeTo(raw))
	sub, err := p.Subscribe()
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.Start(ctx))

	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("provider never became ready")
	}
	assert.Equal(t, SignedOut{}, recv(t, sub), "initial state after discovery")
	return p, sub
}

func TestOIDC_NotReadyBeforeStart(t *testing.T) {
	p := NewTestOIDCProvider(OIDCConfig{ClientID: "client"}, &fakeVerifier{}, exchangeTo("tok"))

	_, _, err := p.AuthCodeURL("http://localhost/login/callback", "state")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = p.CompleteLogin(context.Background(), "code", "http://localhost/login/callback", "")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestOIDC_AuthCodeURL(t *testing.T) {
	p, _ := startedTestProvider(t, OIDCConfig{ClientID: "client"}, &fakeVerifier{}, "tok")

	authURL, nonce, err := p.AuthCodeURL("http://localhost/login/callback", "st")
	require.NoError(t, err)
	assert.Len(t, nonce, 64)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, nonce, q.Get("nonce"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "http://localhost/login/callback", q.Get("redirect_uri"))
	assert.True(t, strings.Contains(q.Get("scope"), "openid"))
}

func TestOIDC_CompleteLogin(t *testing.T) {
	v := &fakeVerifier{claims: map[string]map[string]any{
		"tok": {"sub": "uid-1", "email": "alice@example.com", "email_verified": true, "nonce": "n-1"},
	}}
	p, sub := startedTestProvider(t, OIDCConfig{ClientID: "client"}, v, "tok")

	ev, err := p.CompleteLogin(context.Background(), "code", "http://localhost/login/callback", "n-1")
	require.NoError(t, err)
	assert.Equal(t, SignedIn{UID: "uid-1", Email: "alice@example.com"}, ev)
	assert.Equal(t, ev, recv(t, sub))
}

func TestOIDC_CompleteLoginRejections(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OIDCConfig
		claims  map[string]any
		code    string
		nonce   string
		wantErr string
	}{
		{
			name:    "exchange fails",
			claims:  map[string]any{"sub": "u", "email": "u@example.com"},
			code:    "bad-code",
			wantErr: "invalid_grant",
		},
		{
			name:    "nonce mismatch",
			claims:  map[string]any{"sub": "u", "email": "u@example.com", "nonce": "other"},
			nonce:   "expected",
			wantErr: "nonce mismatch",
		},
		{
			name:    "nonce missing",
			claims:  map[string]any{"sub": "u", "email": "u@example.com"},
			nonce:   "expected",
			wantErr: "missing nonce",
		},
		{
			name:    "email not verified",
			claims:  map[string]any{"sub": "u", "email": "u@example.com", "email_verified": false},
			wantErr: "email not verified",
		},
		{
			name:    "missing email",
			claims:  map[string]any{"sub": "u"},
			wantErr: "missing email",
		},
		{
			name:    "missing sub",
			claims:  map[string]any{"email": "u@example.com"},
			wantErr: "missing sub",
		},
		{
			name:    "hosted domain not allowed",
			cfg:     OIDCConfig{AllowedDomains: []string{"example.com"}},
			claims:  map[string]any{"sub": "u", "email": "u@other.org", "hd": "other.org"},
			wantErr: "not in allowed domains",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ClientID = "client"
			v := &fakeVerifier{claims: map[string]map[string]any{"tok": tt.claims}}
			p, sub := startedTestProvider(t, cfg, v, "tok")

			code := tt.code
			if code == "" {
				code = "code"
			}
			_, err := p.CompleteLogin(context.Background(), code, "http://localhost/cb", tt.nonce)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			select {
			case ev := <-sub.Events():
				t.Fatalf("rejected login must not emit, got %#v", ev)
			default:
			}
		})
	}
}

func TestOIDC_HostedDomainAllowed(t *testing.T) {
	v := &fakeVerifier{claims: map[string]map[string]any{
		"tok": {"sub": "u", "email": "u@example.com", "hd": "Example.com"},
	}}
	p, _ := startedTestProvider(t, OIDCConfig{ClientID: "client", AllowedDomains: []string{"example.com"}}, v, "tok")

	_, err := p.CompleteLogin(context.Background(), "code", "http://localhost/cb", "")
	assert.NoError(t, err)
}

func TestOIDC_SignInWithIDToken(t *testing.T) {
	v := &fakeVerifier{claims: map[string]map[string]any{
		"google-tok": {"sub": "g-1", "email": "g@example.com"},
	}}
	p, sub := startedTestProvider(t, OIDCConfig{ClientID: "client"}, v, "unused")

	ev, err := p.SignInWithIDToken(context.Background(), "google-tok")
	require.NoError(t, err)
	assert.Equal(t, SignedIn{UID: "g-1", Email: "g@example.com"}, recv(t, sub))
	assert.Equal(t, "g-1", ev.UID)

	_, err = p.SignInWithIDToken(context.Background(), "forged")
	assert.ErrorContains(t, err, "invalid ID token")
}

func TestOIDC_GenericRejectsRawIDToken(t *testing.T) {
	p, err := NewOIDCProvider(OIDCConfig{Issuer: "https://idp.example.com", ClientID: "client"})
	require.NoError(t, err)
	assert.Equal(t, "oidc", p.Name())
	assert.Equal(t, "SSO", p.Config().ProviderName)

	_, err = p.SignInWithIDToken(context.Background(), "raw")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestOIDC_RequiresIssuerAndClient(t *testing.T) {
	_, err := NewOIDCProvider(OIDCConfig{ClientID: "client"})
	assert.Error(t, err)
	_, err = NewOIDCProvider(OIDCConfig{Issuer: "https://idp.example.com"})
	assert.Error(t, err)
}

func TestOIDC_DiscoveryRetries(t *testing.T) {
	p := NewTestOIDCProvider(OIDCConfig{
		ClientID:  "client",
		RetryBase: time.Millisecond,
		RetryCap:  5 * time.Millisecond,
	}, &fakeVerifier{}, exchangeTo("tok"))

	attempts := 0
	p.discover = func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("issuer unreachable")
		}
		return nil
	}
	sub, err := p.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	assert.Equal(t, SignedOut{}, recv(t, sub))
	assert.Equal(t, 3, attempts)
}

func TestEmailDomainCheck(t *testing.T) {
	check := emailDomainCheck([]string{"example.com"})
	assert.NoError(t, check(nil, "a@EXAMPLE.com"))
	assert.Error(t, check(nil, "a@other.org"))
	assert.Error(t, check(nil, "no-at-sign"))
	assert.Nil(t, emailDomainCheck(nil))
}
