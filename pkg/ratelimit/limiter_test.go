package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestSteady(t *testing.T) {
	s := NewSteady(time.Hour)

	if !s.Allow() {
		t.Fatal("Expected first request to be allowed")
	}
	if s.Allow() {
		t.Error("Expected second request to be throttled")
	}

	s.Reset()
	if !s.Allow() {
		t.Error("Expected request to be allowed after reset")
	}
}

func TestSteadyWaitHonoursContext(t *testing.T) {
	s := NewSteady(time.Hour)
	s.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Wait(ctx); err == nil {
		t.Error("Expected Wait to fail when the next slot is past the deadline")
	}

	cancel()
	if err := s.Wait(ctx); err == nil {
		t.Error("Expected Wait to fail on a cancelled context")
	}
}

func TestSteadyWaitSpacesRequests(t *testing.T) {
	s := NewSteady(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := s.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("Expected requests to be spaced, took %v", elapsed)
	}
}

func TestPerMinute(t *testing.T) {
	if got := PerMinute(6).interval; got != 10*time.Second {
		t.Errorf("Expected 10s interval, got %v", got)
	}
	if got := PerMinute(0).interval; got != time.Minute {
		t.Errorf("Expected 1m interval for non-positive rate, got %v", got)
	}
}

func TestRegistry(t *testing.T) {
	created := 0
	r := NewRegistry(func() Limiter {
		created++
		return NewSteady(time.Hour)
	})

	a := r.For("alice")
	if a != r.For("alice") {
		t.Error("Expected the same limiter for the same key")
	}
	b := r.For("bob")

	a.Allow()
	if !b.Allow() {
		t.Error("Limiters for different keys must be independent")
	}
	if created != 2 || r.Len() != 2 {
		t.Errorf("Expected 2 limiters, created %d, len %d", created, r.Len())
	}
}
