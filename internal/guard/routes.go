// Package guard decides, per page navigation, whether the target route may be
// shown or the visitor must be sent to the landing route to sign in first.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLanding is the route unauthenticated visitors are sent to.
const DefaultLanding = "/first"

// Route describes one page route and its authorization metadata.
type Route struct {
	Path         string `yaml:"path"`
	Name         string `yaml:"name"`
	RequiresAuth bool   `yaml:"requiresAuth"`
	Redirect     string `yaml:"redirect,omitempty"` // unconditional alias to another path
}

// RouteTable is the set of page routes the portal serves.
type RouteTable struct {
	Landing string  `yaml:"landing"`
	Routes  []Route `yaml:"routes"`

	byPath map[string]*Route
}

// DefaultRoutes returns the portal's built-in route table.
func DefaultRoutes() *RouteTable {
	t := &RouteTable{
		Landing: DefaultLanding,
		Routes: []Route{
			{Path: "/", Redirect: DefaultLanding},
			{Path: "/first", Name: "First"},
			{Path: "/home", Name: "Home"},
			{Path: "/active", Name: "Active", RequiresAuth: true},
			{Path: "/ai", Name: "AI", RequiresAuth: true},
			{Path: "/map", Name: "Map"},
			{Path: "/profile", Name: "Profile", RequiresAuth: true},
			{Path: "/about", Name: "About"},
		},
	}
	if err := t.index(); err != nil {
		panic(err)
	}
	return t
}

// LoadRoutes reads and parses a route table file.
func LoadRoutes(file string) (*RouteTable, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes parses a YAML route table. Landing defaults to DefaultLanding.
func ParseRoutes(data []byte) (*RouteTable, error) {
	var t RouteTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	if t.Landing == "" {
		t.Landing = DefaultLanding
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *RouteTable) index() error {
	if !strings.HasPrefix(t.Landing, "/") {
		return fmt.Errorf("landing route %q must be an absolute path", t.Landing)
	}
	t.byPath = make(map[string]*Route, len(t.Routes))
	for i := range t.Routes {
		r := &t.Routes[i]
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %d: path %q must be an absolute path", i, r.Path)
		}
		r.Path = cleanPath(r.Path)
		if _, dup := t.byPath[r.Path]; dup {
			return fmt.Errorf("route %q defined twice", r.Path)
		}
		t.byPath[r.Path] = r
	}
	landing, ok := t.byPath[cleanPath(t.Landing)]
	if !ok {
		return fmt.Errorf("landing route %q is not in the route table", t.Landing)
	}
	if landing.RequiresAuth {
		return errors.New("landing route must not require authorization")
	}
	return nil
}

// WithLanding returns a copy of t whose landing route is p.
func (t *RouteTable) WithLanding(p string) (*RouteTable, error) {
	cp := &RouteTable{Landing: p, Routes: append([]Route(nil), t.Routes...)}
	if err := cp.index(); err != nil {
		return nil, err
	}
	return cp, nil
}

// Lookup returns the route for a request path, or nil if the path is unknown.
func (t *RouteTable) Lookup(p string) *Route {
	r, ok := t.byPath[cleanPath(p)]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// Paths returns every route path in table order.
func (t *RouteTable) Paths() []string {
	out := make([]string, 0, len(t.Routes))
	for _, r := range t.Routes {
		out = append(out, r.Path)
	}
	return out
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
