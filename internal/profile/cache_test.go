package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockLookup implements Lookup for testing.
type mockLookup struct {
	mu       sync.Mutex
	calls    int
	profiles map[string]*Record
	err      error
	delay    time.Duration
}

func (m *mockLookup) FindProfileByEmail(_ context.Context, email string) (*Record, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.profiles[email].Clone(), nil
}

func (m *mockLookup) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func rating(v float64) *float64 { return &v }

func TestCache_MissThenHit(t *testing.T) {
	backend := &mockLookup{profiles: map[string]*Record{
		"alice@example.com": {Username: "alice", Role: "admin", Rating: rating(4.5)},
	}}
	cache := NewCache(backend, 0, time.Minute)

	for range 2 {
		rec, err := cache.FindProfileByEmail(context.Background(), "alice@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec == nil || rec.Username != "alice" || rec.Role != "admin" || *rec.Rating != 4.5 {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
	if backend.callCount() != 1 {
		t.Errorf("expected 1 backend call (cached), got %d", backend.callCount())
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	backend := &mockLookup{profiles: map[string]*Record{
		"alice@example.com": {Username: "alice", Rating: rating(3)},
	}}
	cache := NewCache(backend, 0, time.Minute)

	first, _ := cache.FindProfileByEmail(context.Background(), "alice@example.com")
	first.Username = "mallory"
	*first.Rating = 0

	second, _ := cache.FindProfileByEmail(context.Background(), "alice@example.com")
	if second.Username != "alice" || *second.Rating != 3 {
		t.Errorf("cached record was mutated through a caller copy: %+v", second)
	}
}

func TestCache_Expiry(t *testing.T) {
	backend := &mockLookup{profiles: map[string]*Record{
		"alice@example.com": {Username: "alice"},
	}}
	cache := NewCache(backend, 0, 20*time.Millisecond)

	_, _ = cache.FindProfileByEmail(context.Background(), "alice@example.com")
	time.Sleep(60 * time.Millisecond)
	_, _ = cache.FindProfileByEmail(context.Background(), "alice@example.com")

	if backend.callCount() != 2 {
		t.Errorf("expected 2 backend calls after expiry, got %d", backend.callCount())
	}
}

func TestCache_MissNotCached(t *testing.T) {
	backend := &mockLookup{profiles: map[string]*Record{}}
	cache := NewCache(backend, 0, time.Minute)

	rec, err := cache.FindProfileByEmail(context.Background(), "nobody@example.com")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}

	backend.mu.Lock()
	backend.profiles["nobody@example.com"] = &Record{Username: "late"}
	backend.mu.Unlock()

	rec, err = cache.FindProfileByEmail(context.Background(), "nobody@example.com")
	if err != nil || rec == nil || rec.Username != "late" {
		t.Fatalf("expected newly created profile, got (%+v, %v)", rec, err)
	}
}

func TestCache_ErrorNotCached(t *testing.T) {
	backend := &mockLookup{err: errors.New("db down")}
	cache := NewCache(backend, 0, time.Minute)

	if _, err := cache.FindProfileByEmail(context.Background(), "a@example.com"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := cache.FindProfileByEmail(context.Background(), "a@example.com"); err == nil {
		t.Fatal("expected error")
	}
	if backend.callCount() != 2 {
		t.Errorf("errors must not be cached, got %d backend calls", backend.callCount())
	}
}

func TestCache_SingleflightDedup(t *testing.T) {
	backend := &mockLookup{
		profiles: map[string]*Record{"a@example.com": {Username: "a"}},
		delay:    50 * time.Millisecond,
	}
	cache := NewCache(backend, 0, time.Minute)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := cache.FindProfileByEmail(context.Background(), "a@example.com")
			if err != nil || rec == nil || rec.Username != "a" {
				t.Errorf("unexpected result: (%+v, %v)", rec, err)
			}
		}()
	}
	wg.Wait()

	if backend.callCount() != 1 {
		t.Errorf("expected 1 backend call with singleflight, got %d", backend.callCount())
	}
}

func TestCache_Invalidate(t *testing.T) {
	backend := &mockLookup{profiles: map[string]*Record{"a@example.com": {Username: "a"}}}
	cache := NewCache(backend, 0, time.Minute)

	_, _ = cache.FindProfileByEmail(context.Background(), "a@example.com")
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", cache.Len())
	}
	cache.Invalidate("a@example.com")
	_, _ = cache.FindProfileByEmail(context.Background(), "a@example.com")
	if backend.callCount() != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", backend.callCount())
	}
}
