// Package session holds the process-wide sign-in state: the Store readers
// consult, the Gate that releases once the identity provider has first
// reported, and the Synchronizer that is the Store's only writer.
package session

import "github.com/nutripublic/portal/internal/profile"

// Session is the authenticated identity as known to the application.
// UID and Email come from the identity provider; the rest is filled in from
// the user's profile and is empty when enrichment found nothing.
type Session struct {
	UID      string   `json:"uid"`
	Email    string   `json:"email"`
	Username string   `json:"username,omitempty"`
	Role     string   `json:"role,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
}

// Minimal returns a session carrying only the provider identity.
func Minimal(uid, email string) *Session {
	return &Session{UID: uid, Email: email}
}

// WithProfile returns a session combining the provider identity with a
// profile record.
func WithProfile(uid, email string, rec *profile.Record) *Session {
	s := Minimal(uid, email)
	if rec == nil {
		return s
	}
	rec = rec.Clone()
	s.Username = rec.Username
	s.Role = rec.Role
	s.Rating = rec.Rating
	return s
}

// Clone returns a deep copy of s. A nil receiver returns nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Rating != nil {
		v := *s.Rating
		out.Rating = &v
	}
	return &out
}

// Equal reports whether s and o describe the same session.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.UID != o.UID || s.Email != o.Email || s.Username != o.Username || s.Role != o.Role {
		return false
	}
	if s.Rating == nil || o.Rating == nil {
		return s.Rating == o.Rating
	}
	return *s.Rating == *o.Rating
}

// Snapshot is a consistent view of the Store at one point in time.
// Current is nil exactly when IsAuthenticated is false.
type Snapshot struct {
	IsAuthenticated bool     `json:"isAuthenticated"`
	Current         *Session `json:"session,omitempty"`
}
