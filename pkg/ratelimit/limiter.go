package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request or ctx ends
	Wait(ctx context.Context) error
	// Reset resets the rate limiter state
	Reset()
}

// Steady spaces requests evenly with a burst of one
type Steady struct {
	interval time.Duration
	mu       sync.Mutex
	limiter  *rate.Limiter
}

// NewSteady allows one request every interval
func NewSteady(interval time.Duration) *Steady {
	return &Steady{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// PerMinute allows n evenly spaced requests per minute
func PerMinute(n int) *Steady {
	if n <= 0 {
		n = 1
	}
	return NewSteady(time.Minute / time.Duration(n))
}

func (s *Steady) current() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

// Allow checks if a request can proceed now
func (s *Steady) Allow() bool {
	return s.current().Allow()
}

// Wait blocks until the next request slot
func (s *Steady) Wait(ctx context.Context) error {
	return s.current().Wait(ctx)
}

// Reset gives back the full burst
func (s *Steady) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rate.NewLimiter(rate.Every(s.interval), 1)
}

// Registry hands out one limiter per key, creating it on first use
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	factory  func() Limiter
}

// NewRegistry creates a registry that builds limiters with factory
func NewRegistry(factory func() Limiter) *Registry {
	return &Registry{
		limiters: make(map[string]Limiter),
		factory:  factory,
	}
}

// For returns the limiter for key
func (r *Registry) For(key string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = r.factory()
		r.limiters[key] = l
	}
	return l
}

// Len returns how many keys have a limiter
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
