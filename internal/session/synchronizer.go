package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nutripublic/portal/internal/identity"
)

const tracerName = "github.com/nutripublic/portal/internal/session"

// Synchronizer applies identity provider notifications to the Store. It is
// the Store's only writer and the only caller of Gate.settle.
type Synchronizer struct {
	store    *Store
	gate     *Gate
	enricher *Enricher
	sub      *identity.Subscription
	tracer   trace.Tracer
}

// NewSynchronizer wires a subscription to the store and gate. Call Run once.
func NewSynchronizer(store *Store, gate *Gate, enricher *Enricher, sub *identity.Subscription) *Synchronizer {
	return &Synchronizer{
		store:    store,
		gate:     gate,
		enricher: enricher,
		sub:      sub,
		tracer:   otel.Tracer(tracerName),
	}
}

// Run processes notifications one at a time, in arrival order, until ctx is
// cancelled or the subscription is closed. It returns ctx.Err() on
// cancellation and nil when the subscription ends.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.sub.Closed():
			return nil
		case ev := <-s.sub.Events():
			s.handle(ctx, ev)
		}
	}
}

func (s *Synchronizer) handle(ctx context.Context, ev identity.Event) {
	kind := identity.Kind(ev)
	ctx, span := s.tracer.Start(ctx, "session.handle", trace.WithAttributes(
		attribute.String("session.event", kind),
	))
	defer span.End()
	notificationsTotal.WithLabelValues(kind).Inc()

	switch ev := ev.(type) {
	case identity.SignedIn:
		// The minimal session is in place before the gate opens, so anyone
		// it releases already sees the final authentication flag. Profile
		// fields may still be missing until enrichment below completes.
		s.store.set(Minimal(ev.UID, ev.Email))
		s.settle(span)
		sess := s.enricher.Enrich(ctx, ev.UID, ev.Email)
		s.store.set(sess)
		span.SetAttributes(attribute.Bool("session.enriched", sess.Username != "" || sess.Role != "" || sess.Rating != nil))
		slog.Info("session signed in", "email", ev.Email, "role", sess.Role)
	case identity.SignedOut:
		s.store.clear()
		s.settle(span)
		slog.Info("session signed out")
	default:
		slog.Warn("ignoring unknown identity event", "type", kind)
	}
}

func (s *Synchronizer) settle(span trace.Span) {
	if s.gate.settle() {
		span.AddEvent("gate settled")
		slog.Info("session initialized", "authenticated", s.store.IsAuthenticated())
	}
}
