package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.Now
	return l, clock
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if l.Len() != 0 {
		t.Error("unlimited limiter should not track clients")
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Allow("x"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}

func TestBurstThenLimited(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("a"); err != nil {
			t.Fatalf("request %d within burst: %v", i, err)
		}
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d := l.RetryAfter("a"); d <= 0 || d > time.Second {
		t.Errorf("RetryAfter = %v, want within (0, 1s]", d)
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); err == nil {
		t.Fatal("a should be limited")
	}
	if err := l.Allow("b"); err != nil {
		t.Errorf("b should not be affected by a: %v", err)
	}
}

func TestRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("a"); err == nil {
		t.Fatal("expected limit")
	}
	clock.Advance(time.Second)
	if err := l.Allow("a"); err != nil {
		t.Errorf("expected a token after one second: %v", err)
	}
}

func TestPrune(t *testing.T) {
	l, clock := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})

	_ = l.Allow("idle")
	clock.Advance(time.Second)
	_ = l.Allow("busy")

	if n := l.Prune(); n != 0 {
		t.Fatalf("nothing is idle yet, pruned %d", n)
	}
	clock.Advance(time.Second + time.Millisecond)
	if n := l.Prune(); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}
