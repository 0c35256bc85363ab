package guard

import (
	"net/url"
	"strings"
)

// Gate is the initialization gate the guard waits on.
type Gate interface {
	Wait()
	Done() <-chan struct{}
}

// SessionReader reports whether a user is signed in.
type SessionReader interface {
	IsAuthenticated() bool
}

// Target describes one end of a navigation.
type Target struct {
	// FullPath is the path with its query string, e.g. "/profile?tab=stats".
	FullPath string
	// Route is the matched route, or nil when the path has no metadata.
	Route *Route
}

// RequiresAuth reports whether the target's route demands a session.
// Targets without route metadata do not.
func (t Target) RequiresAuth() bool {
	return t.Route != nil && t.Route.RequiresAuth
}

// Outcome is the kind of decision taken for a navigation.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision is the guard's verdict for one navigation attempt.
type Decision struct {
	Outcome Outcome
	// Path is the redirect target; empty for Allow.
	Path string
	// Original is the full path the visitor asked for; empty for Allow.
	Original string
}

// Location renders a Redirect decision as a URL such as
// "/first?redirect=/profile". It returns "" for Allow.
func (d Decision) Location() string {
	if d.Outcome != Redirect {
		return ""
	}
	// Slashes stay literal so the redirect value reads like a path.
	v := strings.ReplaceAll(url.QueryEscape(d.Original), "%2F", "/")
	return d.Path + "?redirect=" + v
}

// Guard authorizes page navigations against the session store.
type Guard struct {
	gate    Gate
	store   SessionReader
	routes  *RouteTable
	landing string
}

// New creates a guard. A nil routes table uses DefaultRoutes.
func New(gate Gate, store SessionReader, routes *RouteTable) *Guard {
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Guard{
		gate:    gate,
		store:   store,
		routes:  routes,
		landing: cleanPath(routes.Landing),
	}
}

// Routes returns the guard's route table.
func (g *Guard) Routes() *RouteTable { return g.routes }

// Resolve builds the navigation target for a URL.
func (g *Guard) Resolve(u *url.URL) Target {
	full := u.EscapedPath()
	if full == "" {
		full = "/"
	}
	if u.RawQuery != "" {
		full += "?" + u.RawQuery
	}
	return Target{FullPath: full, Route: g.routes.Lookup(u.Path)}
}

// Decide waits for the session to initialize, then allows the navigation or
// redirects it to the landing route. It always returns a decision.
func (g *Guard) Decide(to, from Target) Decision {
	g.gate.Wait()
	return g.decide(to, from)
}

// decide applies the rules to an already-initialized session.
func (g *Guard) decide(to, _ Target) Decision {
	if !to.RequiresAuth() {
		return Decision{Outcome: Allow}
	}
	if g.store.IsAuthenticated() {
		return Decision{Outcome: Allow}
	}
	return Decision{Outcome: Redirect, Path: g.landing, Original: to.FullPath}
}
