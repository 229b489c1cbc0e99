package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// LimitError is returned when a call is blocked by the guard.
type LimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Decision is the outcome of a ShouldCall check.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a provider's request budget on top of an http.Client.
type Guard struct {
	decl Declaration

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement. A declaration
// without limits passes the client through untouched.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if !decl.HasLimits() {
		return base
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:  transport,
		guard: newGuard(decl),
	}
	return &client
}

func newGuard(decl Declaration) *Guard {
	buckets := make(map[Window]*bucket)
	for window, limit := range decl.Limits() {
		buckets[window] = &bucket{
			capacity: limit,
			tokens:   float64(limit),
			last:     time.Now(),
		}
	}
	return &Guard{decl: decl, buckets: buckets}
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		deniedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		return nil, LimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes budget and reports whether the call may proceed.
func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		if !consumeToken(b, window.Duration(), now) {
			retryAt := b.last.Add(window.Duration() / time.Duration(b.capacity))
			remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
	}

	return Decision{Allowed: true}
}

// RecordResponse observes the provider response and honors Retry-After on
// 429s.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))

	if status != http.StatusTooManyRequests {
		return
	}
	after := headerSeconds(headers, "Retry-After")
	if after <= 0 {
		after = 60
	}
	g.cooldown = time.Now().Add(time.Duration(after) * time.Second)
	retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(after))
}

func headerSeconds(h http.Header, key string) int {
	val := h.Get(key)
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func consumeToken(b *bucket, window time.Duration, now time.Time) bool {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}
