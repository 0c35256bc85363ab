package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/session"
)

// tokenSignIner is a provider that signs in from a bearer token (jwt mode).
type tokenSignIner interface {
	SignIn(ctx context.Context, token string) (identity.SignedIn, error)
}

// idTokenSignIner is a provider that signs in from a raw ID token (google mode).
type idTokenSignIner interface {
	SignInWithIDToken(ctx context.Context, rawIDToken string) (identity.SignedIn, error)
}

func (s *Server) registerAuth(api huma.API) {
	if p, ok := s.provider.(tokenSignIner); ok {
		huma.Register(api, huma.Operation{
			OperationID: "tokenSignIn",
			Method:      http.MethodPost,
			Path:        "/api/auth/token",
			Tags:        []string{"Auth"},
		}, func(ctx context.Context, input *TokenSignInInput) (*SignInOutput, error) {
			if input.Body.Token == "" {
				return nil, huma.NewError(http.StatusBadRequest, "token is required")
			}
			return s.signIn(ctx, func() (identity.SignedIn, error) { return p.SignIn(ctx, input.Body.Token) })
		})
	}

	if p, ok := s.provider.(idTokenSignIner); ok && s.provider.Name() == "google" {
		huma.Register(api, huma.Operation{
			OperationID: "googleSignIn",
			Method:      http.MethodPost,
			Path:        "/api/auth/google",
			Tags:        []string{"Auth"},
		}, func(ctx context.Context, input *GoogleSignInInput) (*SignInOutput, error) {
			if input.Body.IDToken == "" {
				return nil, huma.NewError(http.StatusBadRequest, "idToken is required")
			}
			return s.signIn(ctx, func() (identity.SignedIn, error) { return p.SignInWithIDToken(ctx, input.Body.IDToken) })
		})
	}
}

// signIn runs a provider sign-in, audits it and waits for the session store
// to report the new identity.
func (s *Server) signIn(ctx context.Context, do func() (identity.SignedIn, error)) (*SignInOutput, error) {
	ip := remoteAddrFromContext(ctx)
	who, err := do()
	if err != nil {
		slog.Warn("sign-in rejected", "provider", s.provider.Name(), "error", err)
		audit.Event{
			Actor:    audit.Anonymous,
			Action:   "login_attempt",
			Status:   "failed",
			Reason:   err.Error(),
			IP:       ip,
			Provider: s.provider.Name(),
		}.Warn("Audit Log: Login Failed")
		if errors.Is(err, identity.ErrNotReady) {
			return nil, huma.Error503ServiceUnavailable(err.Error())
		}
		return nil, huma.NewError(http.StatusUnauthorized, err.Error())
	}

	s.waitForSession(ctx, func(snap session.Snapshot) bool {
		return snap.IsAuthenticated && snap.Current.UID == who.UID
	})
	audit.Event{
		Actor:    who.Email,
		Action:   "login_success",
		Status:   "granted",
		IP:       ip,
		Provider: s.provider.Name(),
	}.Info("Audit Log: Login Success")

	out := &SignInOutput{}
	out.Body.UID = who.UID
	out.Body.Email = who.Email
	return out, nil
}
