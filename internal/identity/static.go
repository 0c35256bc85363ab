package identity

import (
	"context"
	"log/slog"
)

// StaticProvider reports a fixed identity. It backs the "static" auth mode
// used for local development and single-user kiosks: on Start it emits
// SignedIn for the configured user, or SignedOut when no user is configured.
type StaticProvider struct {
	notifier
	uid   string
	email string
}

// NewStaticProvider creates a provider for a fixed uid/email. An empty email
// means the provider starts signed out.
func NewStaticProvider(uid, email string) *StaticProvider {
	if uid == "" {
		uid = email
	}
	return &StaticProvider{uid: uid, email: email}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Subscribe() (*Subscription, error) { return p.subscribe() }

// Start emits the initial state from a background goroutine, the way a real
// provider reports restored state some time after startup.
func (p *StaticProvider) Start(ctx context.Context) error {
	go func() {
		var ev Event = SignedOut{}
		if p.email != "" {
			ev = SignedIn{UID: p.uid, Email: p.email}
		}
		if err := p.emit(ctx, ev); err != nil {
			slog.Warn("static provider: initial state not delivered", "error", err)
		}
	}()
	return nil
}

// SignIn emits SignedIn for the given identity.
func (p *StaticProvider) SignIn(ctx context.Context, uid, email string) error {
	return p.emit(ctx, SignedIn{UID: uid, Email: email})
}

func (p *StaticProvider) SignOut(ctx context.Context) error {
	return p.emit(ctx, SignedOut{})
}
