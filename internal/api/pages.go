package api

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/nutripublic/portal/internal/session"
)

// registerPages serves every route of the guard's table behind the guard.
func (s *Server) registerPages(mux *http.ServeMux) {
	routes := s.guard.Routes()
	for _, path := range routes.Paths() {
		pattern := "GET " + path
		if path == "/" {
			pattern = "GET /{$}"
		}
		mux.Handle(pattern, s.guard.Middleware(http.HandlerFunc(s.handlePage)))
	}
}

type pageLink struct {
	Path   string
	Name   string
	Locked bool // requires sign-in
}

type pageData struct {
	Title     string
	Path      string
	Landing   bool
	Links     []pageLink
	Session   *session.Session
	LoginURL  string // empty when the provider has no browser login
	LogoutURL string
}

// handlePage renders a page shell with the current session. Page content is
// loaded client-side from the JSON API.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	routes := s.guard.Routes()
	route := routes.Lookup(r.URL.Path)
	data := pageData{Path: r.URL.Path, Session: s.sessions.Current()}
	if route != nil {
		data.Title = route.Name
		data.Landing = route.Path == routes.Landing
	}
	for _, rt := range routes.Routes {
		if rt.Name == "" {
			continue
		}
		data.Links = append(data.Links, pageLink{Path: rt.Path, Name: rt.Name, Locked: rt.RequiresAuth})
	}
	if data.Session == nil {
		if _, ok := s.provider.(codeFlowProvider); ok {
			data.LoginURL = loginURL(localRedirect(r.URL.Query().Get("redirect")))
		}
	} else {
		data.LogoutURL = "/logout"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		slog.Error("render page", "path", r.URL.Path, "error", err)
	}
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>NutriPublic{{with .Title}} | {{.}}{{end}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="card" data-path="{{.Path}}">
  <nav>{{range .Links}}<a href="{{.Path}}">{{.Name}}{{if .Locked}} *{{end}}</a>{{end}}</nav>
  <h1>{{with .Title}}{{.}}{{else}}NutriPublic{{end}}</h1>
  {{if .Session}}
  <p class="msg">Signed in as {{with .Session.Username}}{{.}}{{else}}{{.Session.Email}}{{end}}{{with .Session.Role}} ({{.}}){{end}}</p>
  <a href="{{.LogoutURL}}" class="btn">Sign out</a>
  {{else if .LoginURL}}
  <p class="msg">{{if .Landing}}Welcome to NutriPublic.{{end}} Sign in to unlock pages marked *.</p>
  <a href="{{.LoginURL}}" class="btn">Sign in</a>
  {{end}}
</div>
</body>
</html>`))
