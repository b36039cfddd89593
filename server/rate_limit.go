package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-key sliding-window admission gate: at most `limit`
// admissions per `window` per key, keyed by source address.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

// Allow drops any stored timestamp for key older than the window, then
// admits if fewer than limit remain, recording now. Allow itself cannot
// fail: refusal is a normal, silent outcome.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	ts := trimBefore(rl.hits[key], cutoff)
	if len(ts) >= rl.limit {
		rl.hits[key] = ts
		return false
	}
	rl.hits[key] = append(ts, now)
	return true
}

// trimBefore drops the leading run of timestamps at or before cutoff. The
// stored list is naturally non-decreasing (built from time.Now() calls), so
// a linear scan from the front suffices; these lists stay at most `limit`
// entries long in steady state.
func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

// cleanupLoop walks the map at minute granularity and drops keys whose
// entire history has aged out of the window, bounding memory under churn
// from many distinct source addresses.
func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanupOnce()
		}
	}
}

func (rl *RateLimiter) cleanupOnce() {
	cutoff := time.Now().Add(-rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, ts := range rl.hits {
		trimmed := trimBefore(ts, cutoff)
		if len(trimmed) == 0 {
			delete(rl.hits, key)
		} else {
			rl.hits[key] = trimmed
		}
	}
}

// trustProxy gates whether forwarded-for/real-ip headers are honored.
// Disabled by default: a client behind no reverse proxy can set these
// headers to anything, so trusting them unconditionally would defeat the
// rate limiter. Operators fronting the hub with a trusted proxy opt in via
// TRUST_PROXY=1.
var trustProxy = strings.EqualFold(os.Getenv("TRUST_PROXY"), "1") || strings.EqualFold(os.Getenv("TRUST_PROXY"), "true")

// clientIPKey extracts the source-address key for a request, preferring the
// first entry of a forwarded-for chain, then a real-ip header, then the
// transport peer address, only when trustProxy is set.
func clientIPKey(r *http.Request) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if first != "" {
				return first
			}
		}
		if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
			return real
		}
	}
	return peerAddr(r.RemoteAddr)
}

func peerAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
