package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/nutripublic/portal/internal/profile"
)

// DefaultLookupTimeout bounds a single profile lookup.
const DefaultLookupTimeout = 5 * time.Second

// Enricher builds a Session for a signed-in identity from the user's profile.
type Enricher struct {
	lookup  profile.Lookup
	timeout time.Duration
}

// NewEnricher creates an enricher over lookup. A nil lookup always yields a
// minimal session. timeout <= 0 disables the per-lookup deadline.
func NewEnricher(lookup profile.Lookup, timeout time.Duration) *Enricher {
	return &Enricher{lookup: lookup, timeout: timeout}
}

// Enrich looks up the profile for email and returns the combined session.
// When there is no profile, or the lookup fails or panics, the result is the
// minimal {uid, email} session. Enrich never fails.
func (e *Enricher) Enrich(ctx context.Context, uid, email string) (sess *Session) {
	if e == nil || e.lookup == nil {
		return Minimal(uid, email)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("profile lookup panicked, using minimal session", "email", email, "panic", r)
			sess = Minimal(uid, email)
		}
	}()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rec, err := e.lookup.FindProfileByEmail(ctx, email)
	if err != nil {
		slog.Warn("profile lookup failed, using minimal session", "email", email, "error", err)
		return Minimal(uid, email)
	}
	if rec == nil {
		slog.Debug("no profile for user", "email", email)
		return Minimal(uid, email)
	}
	return WithProfile(uid, email, rec)
}
