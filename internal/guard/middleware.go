package guard

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
)

var decisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nutripublic_guard_decisions_total",
		Help: "Page navigation decisions taken by the guard.",
	},
	[]string{"decision"},
)

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// Middleware guards page requests. It holds each request until the session
// is initialized; if the client goes away first, the request is dropped
// without a response. Allowed requests reach next; others get a 302 to the
// landing route. Route aliases are redirected before the guard runs.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		to := g.Resolve(r.URL)
		if to.Route != nil && to.Route.Redirect != "" {
			loc := to.Route.Redirect
			if r.URL.RawQuery != "" {
				loc += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, loc, http.StatusFound)
			return
		}

		select {
		case <-g.gate.Done():
		case <-r.Context().Done():
			decisionsTotal.WithLabelValues("abandoned").Inc()
			slog.Debug("navigation abandoned before session initialized", "path", to.FullPath)
			return
		}

		d := g.decide(to, g.referrer(r))
		decisionsTotal.WithLabelValues(d.Outcome.String()).Inc()
		if d.Outcome == Redirect {
			slog.Debug("navigation redirected", "to", to.FullPath, "location", d.Location())
			http.Redirect(w, r, d.Location(), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// referrer resolves the Referer header into a Target when it points at this host.
func (g *Guard) referrer(r *http.Request) Target {
	ref := r.Referer()
	if ref == "" {
		return Target{}
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Host != "" && u.Host != r.Host) {
		return Target{}
	}
	return g.Resolve(u)
}
