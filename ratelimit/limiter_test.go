package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New()

	for i := 0; i < 5; i++ {
		if !l.Allow("ten_1", ClassAPI, 5) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("ten_1", ClassAPI, 5) {
		t.Error("request 6 should be denied")
	}
}

func TestZeroLimitNeverBlocks(t *testing.T) {
	l := New()

	for i := 0; i < 1000; i++ {
		if !l.Allow("ten_1", ClassAPI, 0) {
			t.Fatal("zero limit must always allow")
		}
	}
	if !l.Allow("ten_1", ClassAPI, -1) {
		t.Error("negative limit must always allow")
	}
}

func TestWindowReset(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 30, 0, time.UTC)
	l := New(WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		l.Allow("ten_1", ClassAPI, 3)
	}
	if l.Allow("ten_1", ClassAPI, 3) {
		t.Fatal("window should be exhausted")
	}

	// Crossing the minute boundary opens a fresh window.
	now = now.Add(time.Minute)
	if !l.Allow("ten_1", ClassAPI, 3) {
		t.Error("new window should allow")
	}
}

func TestClassesAndTenantsIndependent(t *testing.T) {
	l := New()

	for i := 0; i < 2; i++ {
		l.Allow("ten_1", ClassAPI, 2)
	}
	if l.Allow("ten_1", ClassAPI, 2) {
		t.Fatal("api window exhausted")
	}

	if !l.Allow("ten_1", ClassWebhook, 2) {
		t.Error("webhook class has its own window")
	}
	if !l.Allow("ten_2", ClassAPI, 2) {
		t.Error("second tenant has its own window")
	}
}

func TestPruneDropsAgedWindows(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return now }))

	l.Allow("ten_1", ClassAPI, 10)
	l.Allow("ten_2", ClassAPI, 10)

	now = now.Add(3 * time.Minute)
	l.Allow("ten_3", ClassAPI, 10)

	l.mu.Lock()
	n := len(l.counts)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("aged windows not pruned: %d entries", n)
	}
}

func TestCustomWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	l := New(WithWindow(time.Second), WithClock(func() time.Time { return now }))

	if l.Window() != time.Second {
		t.Fatalf("Window: got %v", l.Window())
	}

	l.Allow("ten_1", ClassAPI, 1)
	if l.Allow("ten_1", ClassAPI, 1) {
		t.Fatal("second request in same second should be denied")
	}
	now = now.Add(time.Second)
	if !l.Allow("ten_1", ClassAPI, 1) {
		t.Error("next second should allow")
	}
}
