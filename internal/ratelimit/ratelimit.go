// Package ratelimit provides fixed-window rate limiters.
package ratelimit

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Limiter is a simple fixed-window rate limiter for a single entity.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
	now         Clock
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return NewWithClock(rate, window, time.Now)
}

// NewWithClock is New with an explicit time source.
func NewWithClock(rate int, window time.Duration, now Clock) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: now(),
		now:         now,
	}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}

// Keyed applies an independent fixed window to every key, such as a client
// IP or a caller identity.
type Keyed struct {
	mu      sync.Mutex
	windows map[string]*window
	rate    int
	window  time.Duration
	now     Clock
}

type window struct {
	count int
	start time.Time
}

// NewKeyed allows rate requests per window for each key.
func NewKeyed(rate int, per time.Duration, now Clock) *Keyed {
	if now == nil {
		now = time.Now
	}
	return &Keyed{
		windows: make(map[string]*window),
		rate:    rate,
		window:  per,
		now:     now,
	}
}

// Allow returns true if key has not exceeded its rate limit.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	w, ok := k.windows[key]
	if !ok || now.Sub(w.start) > k.window {
		k.windows[key] = &window{count: 1, start: now}
		return k.rate > 0
	}
	w.count++
	return w.count <= k.rate
}

// Cleanup drops keys whose window has expired and returns how many it removed.
func (k *Keyed) Cleanup() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	n := 0
	for key, w := range k.windows {
		if now.Sub(w.start) > k.window {
			delete(k.windows, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}
