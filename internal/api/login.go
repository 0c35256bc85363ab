package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nutripublic/portal/internal/audit"
	"github.com/nutripublic/portal/internal/identity"
	"github.com/nutripublic/portal/internal/session"
)

const stateCookie = "oauth_state"

// codeFlowProvider is a provider that signs users in through a browser
// authorization code flow (oidc and google modes).
type codeFlowProvider interface {
	AuthCodeURL(redirectURI, state string) (authURL, nonce string, err error)
	CompleteLogin(ctx context.Context, code, redirectURI, expectedNonce string) (identity.SignedIn, error)
	Config() identity.OIDCConfig
}

// registerLoginPage registers browser login routes on the raw mux.
// These serve HTML, not JSON, so they're registered directly instead of via huma.
func (s *Server) registerLoginPage(mux *http.ServeMux) {
	mux.HandleFunc("GET /logout", s.handleLogoutPage)
	p, ok := s.provider.(codeFlowProvider)
	if !ok {
		return
	}
	slog.Info("registering login routes", "routes", []string{"/login", "/login/callback"})
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) { s.handleLoginPage(w, r, p) })
	mux.HandleFunc("GET /login/callback", func(w http.ResponseWriter, r *http.Request) { s.handleLoginCallback(w, r, p) })
}

// handleLoginPage serves the "Sign in with <provider>" page. The redirect
// query parameter, set by the navigation guard, is remembered for the callback.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request, p codeFlowProvider) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	csrfToken := generateCSRFToken()
	if csrfToken == "" {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	authURL, nonce, err := p.AuthCodeURL(s.callbackURL(r), csrfToken)
	if err != nil {
		if errors.Is(err, identity.ErrNotReady) {
			w.WriteHeader(http.StatusServiceUnavailable)
			renderError(w, "Sign-in is not available yet. Please try again in a moment.")
			return
		}
		slog.Error("build authorization url", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		renderError(w, "Sign-in is not available.")
		return
	}

	s.logins.Put(csrfToken, loginState{
		nonce:    nonce,
		redirect: localRedirect(r.URL.Query().Get("redirect")),
	})
	setOAuthStateCookie(w, csrfToken)

	if err := loginPageTmpl.Execute(w, map[string]string{
		"AuthURL":  authURL,
		"Provider": p.Config().ProviderName,
	}); err != nil {
		slog.Error("render login page", "error", err)
	}
}

// handleLoginCallback completes the authorization code flow and sends the
// user back to the page the guard turned them away from.
func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request, p codeFlowProvider) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		s.loginFailed(w, r, "provider_error", "Sign-in failed: "+errParam)
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(stateCookie)
	if state == "" || err != nil || cookie.Value == "" || cookie.Value != state {
		s.loginFailed(w, r, "invalid_state", "Invalid state parameter. Please try signing in again.")
		return
	}
	clearOAuthStateCookie(w)

	pending, ok := s.logins.Take(state)
	if !ok {
		s.loginFailed(w, r, "expired_state", "Your sign-in attempt expired. Please try again.")
		return
	}

	code := q.Get("code")
	if code == "" {
		s.loginFailed(w, r, "missing_code", "Missing authorization code.")
		return
	}

	who, err := p.CompleteLogin(r.Context(), code, s.callbackURL(r), pending.nonce)
	if err != nil {
		slog.Error("login completion failed", "error", err)
		s.loginFailed(w, r, "id_token_rejected", "Authentication failed: "+err.Error())
		return
	}

	s.waitForSession(r.Context(), func(snap session.Snapshot) bool {
		return snap.IsAuthenticated && snap.Current.UID == who.UID
	})
	audit.Event{
		Actor:    who.Email,
		Action:   "login_success",
		Status:   "granted",
		IP:       r.RemoteAddr,
		Provider: s.provider.Name(),
	}.Info("Audit Log: Login Success")

	target := pending.redirect
	if target == "" {
		target = "/home"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogoutPage signs out and returns to the landing page.
func (s *Server) handleLogoutPage(w http.ResponseWriter, r *http.Request) {
	if err := s.logout(r.Context(), r.RemoteAddr); err != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		renderError(w, "Sign-out failed. Please try again.")
		return
	}
	http.Redirect(w, r, s.guard.Routes().Landing, http.StatusFound)
}

func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, reason, msg string) {
	audit.Event{
		Actor:    audit.Anonymous,
		Action:   "login_attempt",
		Status:   "failed",
		Reason:   reason,
		IP:       r.RemoteAddr,
		Provider: s.provider.Name(),
	}.Warn("Audit Log: Login Failed")
	w.WriteHeader(http.StatusUnauthorized)
	renderError(w, msg)
}

// callbackURL builds the redirect URI registered with the provider.
func (s *Server) callbackURL(r *http.Request) string {
	base := s.baseURL
	if base == "" {
		base = requestScheme(r) + "://" + r.Host
	}
	return base + "/login/callback"
}

// --- Helpers ---

func generateCSRFToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func setOAuthStateCookie(w http.ResponseWriter, csrfToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   300, // 5 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		return "https"
	}
	return "http"
}

// loginURL is where the guard's landing page links for sign-in.
func loginURL(redirect string) string {
	if redirect == "" {
		return "/login"
	}
	return "/login?redirect=" + url.QueryEscape(redirect)
}

func renderError(w http.ResponseWriter, msg string) {
	if err := errorPageTmpl.Execute(w, map[string]string{"Error": msg}); err != nil {
		slog.Error("render error page", "error", err)
	}
}

// --- HTML Templates ---

const pageStyle = `
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f4f7f2; color: #333; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
  .card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,0.1); padding: 48px 40px; max-width: 460px; width: 100%; text-align: center; }
  h1 { font-size: 24px; margin-bottom: 12px; color: #2e5d1f; }
  .msg { color: #666; margin-bottom: 24px; font-size: 14px; }
  .btn { display: inline-block; padding: 10px 24px; background: #4c8c2b; color: #fff; border-radius: 6px; text-decoration: none; font-size: 14px; }
  .btn:hover { background: #3b6f21; }
  nav a { margin: 0 6px; color: #4c8c2b; font-size: 13px; }`

var loginPageTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>NutriPublic | Sign In</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="card">
  <h1>NutriPublic</h1>
  <p class="msg">Sign in to see your profile, activities and recommendations.</p>
  <a href="{{.AuthURL}}" class="btn">Sign in with {{.Provider}}</a>
</div>
</body>
</html>`))

var errorPageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>NutriPublic | Error</title>
<style>` + pageStyle + `
  h1 { color: #d93025; }</style>
</head>
<body>
<div class="card">
  <h1>Something went wrong</h1>
  <p class="msg">{{.Error}}</p>
  <a href="/login" class="btn">Try Again</a>
</div>
</body>
</html>`))
