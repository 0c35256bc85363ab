package identity

import (
	"context"
	"errors"
	"sync"
)

// Event is a sign-in state change reported by an identity provider.
// It is either SignedIn or SignedOut.
type Event interface {
	isEvent()
}

// SignedIn reports that a user is signed in with the given identity.
type SignedIn struct {
	UID   string // provider-assigned subject, stable for the life of the account
	Email string
}

// SignedOut reports that no user is signed in.
type SignedOut struct{}

func (SignedIn) isEvent()  {}
func (SignedOut) isEvent() {}

// Kind returns a short label for metrics and logs.
func Kind(ev Event) string {
	switch ev.(type) {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// ErrAlreadySubscribed is returned when a provider is subscribed to twice.
var ErrAlreadySubscribed = errors.New("identity provider already has a subscriber")

// ErrNotSupported is returned by provider operations the configured mode does not offer.
var ErrNotSupported = errors.New("operation not supported by this identity provider")

// Provider is an asynchronous source of sign-in state changes.
type Provider interface {
	// Name returns the provider mode (e.g. "static", "oidc", "google", "jwt").
	Name() string
	// Subscribe registers the single consumer of this provider's events.
	// It must be called before Start; a second call returns ErrAlreadySubscribed.
	Subscribe() (*Subscription, error)
	// Start begins emitting events. The first event emitted reports the
	// initial sign-in state, and may arrive at any time after Start returns.
	Start(ctx context.Context) error
	// SignOut ends the current session by emitting SignedOut.
	SignOut(ctx context.Context) error
}

// Subscription delivers a provider's events to one consumer, serially and
// in the order they were emitted.
type Subscription struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

func newSubscription(buffer int) *Subscription {
	return &Subscription{
		ch:     make(chan Event, buffer),
		closed: make(chan struct{}),
	}
}

// Events returns the channel the consumer reads from. It is never closed;
// watch Closed to learn when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Closed is closed once Close has been called.
func (s *Subscription) Closed() <-chan struct{} {
	return s.closed
}

// Close ends the subscription. Pending emits are dropped. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.closed) })
}

// notifier holds the provider's single subscription and serializes emits
// so that events reach the consumer in emission order.
type notifier struct {
	mu  sync.Mutex
	sub *Subscription
}

func (n *notifier) subscribe() (*Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return nil, ErrAlreadySubscribed
	}
	n.sub = newSubscription(16)
	return n.sub, nil
}

// emit delivers ev to the subscriber, blocking while the consumer's buffer is
// full. It returns ctx.Err() if ctx ends first. With no subscriber the event is dropped.
func (n *notifier) emit(ctx context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub == nil {
		return nil
	}
	select {
	case n.sub.ch <- ev:
		return nil
	case <-n.sub.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
