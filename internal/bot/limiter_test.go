package bot

import (
	"testing"
	"time"
)

func TestUserLimiterPrunesIdleBuckets(t *testing.T) {
	clock := time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)
	l := newUserLimiter(2)
	l.now = func() time.Time { return clock }

	for id := int64(1); id <= 100; id++ {
		if !l.Allow(id) {
			t.Fatalf("first command of user %d limited", id)
		}
	}
	if n := l.size(); n != 100 {
		t.Fatalf("buckets = %d, want 100", n)
	}

	// user 1 stays active, everybody else goes idle
	clock = clock.Add(30 * time.Second)
	l.Allow(1)
	clock = clock.Add(45 * time.Second)
	l.Allow(1)

	if n := l.size(); n != 1 {
		t.Fatalf("buckets after idle period = %d, want 1", n)
	}
}

func TestUserLimiterBudget(t *testing.T) {
	clock := time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)
	l := newUserLimiter(2)
	l.now = func() time.Time { return clock }

	if !l.Allow(7) || !l.Allow(7) {
		t.Fatal("burst of 2 should pass")
	}
	if l.Allow(7) {
		t.Fatal("third command should be limited")
	}
	clock = clock.Add(30 * time.Second)
	if !l.Allow(7) {
		t.Fatal("one token should refill after 30s")
	}

	l.SetRate(0)
	for i := 0; i < 10; i++ {
		if !l.Allow(7) {
			t.Fatal("zero rate must allow everything")
		}
	}
}
