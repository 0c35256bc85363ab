package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNotifier_SingleSubscriber(t *testing.T) {
	var n notifier
	if _, err := n.subscribe(); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := n.subscribe(); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestNotifier_PreservesOrder(t *testing.T) {
	var n notifier
	sub, err := n.subscribe()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	want := []Event{
		SignedIn{UID: "u1", Email: "a@example.com"},
		SignedOut{},
		SignedIn{UID: "u2", Email: "b@example.com"},
	}
	for _, ev := range want {
		if err := n.emit(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for i, w := range want {
		if got := recv(t, sub); got != w {
			t.Fatalf("event %d: expected %#v, got %#v", i, w, got)
		}
	}
}

func TestNotifier_NoSubscriberDrops(t *testing.T) {
	var n notifier
	if err := n.emit(context.Background(), SignedOut{}); err != nil {
		t.Fatalf("emit without subscriber should be a no-op, got %v", err)
	}
}

func TestNotifier_EmitAfterCloseDoesNotBlock(t *testing.T) {
	var n notifier
	sub, err := n.subscribe()
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()
	sub.Close() // idempotent

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = n.emit(context.Background(), SignedOut{})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a closed subscription")
	}
}

func TestNotifier_EmitHonoursContext(t *testing.T) {
	var n notifier
	if _, err := n.subscribe(); err != nil {
		t.Fatal(err)
	}
	// Fill the buffer with nobody reading.
	for range 16 {
		if err := n.emit(context.Background(), SignedOut{}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.emit(ctx, SignedOut{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestKind(t *testing.T) {
	if Kind(SignedIn{}) != "signed_in" {
		t.Error("SignedIn kind")
	}
	if Kind(SignedOut{}) != "signed_out" {
		t.Error("SignedOut kind")
	}
	if Kind(nil) != "unknown" {
		t.Error("nil kind")
	}
}

func TestStaticProvider_InitialState(t *testing.T) {
	tests := []struct {
		name  string
		uid   string
		email string
		want  Event
	}{
		{"signed in", "uid-1", "alice@example.com", SignedIn{UID: "uid-1", Email: "alice@example.com"}},
		{"uid defaults to email", "", "bob@example.com", SignedIn{UID: "bob@example.com", Email: "bob@example.com"}},
		{"signed out", "", "", SignedOut{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStaticProvider(tt.uid, tt.email)
			sub, err := p.Subscribe()
			if err != nil {
				t.Fatal(err)
			}
			defer sub.Close()
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := recv(t, sub); got != tt.want {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestStaticProvider_SignInSignOut(t *testing.T) {
	p := NewStaticProvider("", "")
	sub, err := p.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	ctx := context.Background()
	if err := p.SignIn(ctx, "u", "u@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if got := recv(t, sub); got != (SignedIn{UID: "u", Email: "u@example.com"}) {
		t.Fatalf("unexpected first event %#v", got)
	}
	if got := recv(t, sub); got != (SignedOut{}) {
		t.Fatalf("unexpected second event %#v", got)
	}
}
