package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func newTestLimiter(window time.Duration, max int) (*Limiter, *time.Time) {
	l := New(window, max)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(time.Minute, 1)

	if !l.Allow("chat-u1") {
		t.Fatalf("first request should be admitted")
	}
	if l.Allow("chat-u1") {
		t.Fatalf("second request in the same window should be rejected")
	}
	if !l.Allow("chat-u2") {
		t.Fatalf("independent identity should be admitted")
	}
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(time.Minute, 1)

	if !l.Allow("id") {
		t.Fatalf("first request should be admitted")
	}
	*now = now.Add(61 * time.Second)
	if !l.Allow("id") {
		t.Fatalf("request after the window elapsed should be admitted")
	}
}

func TestConcurrentAllowAdmitsExactlyMax(t *testing.T) {
	l := New(time.Minute, 10)

	const calls = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("id") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Fatalf("admitted = %d, want 10", admitted)
	}
}

func TestNilLimiterFailsOpen(t *testing.T) {
	var l *Limiter
	if !l.Allow("anyone") {
		t.Fatalf("nil limiter must admit")
	}
}

func TestPruneDropsIdleIdentities(t *testing.T) {
	l, now := newTestLimiter(time.Minute, 5)
	l.Allow("idle")
	*now = now.Add(2 * time.Minute)
	l.prune()

	l.mu.Lock()
	_, ok := l.hits["idle"]
	l.mu.Unlock()
	if ok {
		t.Fatalf("idle identity should have been pruned")
	}
}
