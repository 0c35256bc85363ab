// Package profile defines the application profile record that enriches a
// signed-in identity, and a caching wrapper around its lookup.
package profile

import "context"

// Record is the profile document stored for a user, keyed by email.
type Record struct {
	Username string
	Role     string
	Rating   *float64 // nil when the user has never been rated
}

// Lookup finds the profile for an email. Implementations return (nil, nil)
// when no profile matches; at most one record is ever returned.
type Lookup interface {
	FindProfileByEmail(ctx context.Context, email string) (*Record, error)
}

// Clone returns a deep copy of r. A nil receiver returns nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Rating != nil {
		v := *r.Rating
		out.Rating = &v
	}
	return &out
}
