package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(cfg Config) *server {
	return &server{
		cfg:     cfg,
		hub:     testHub(),
		limiter: newRateLimiter(5, time.Minute),
		started: time.Now(),
	}
}

func TestHealthEndpointReportsStatusHealthy(t *testing.T) {
	s := newTestServer(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestSecurityHeadersPresentOnEveryResponse(t *testing.T) {
	s := newTestServer(Config{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)

	for _, h := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Permissions-Policy"} {
		if w.Header().Get(h) == "" {
			t.Fatalf("missing security header %s", h)
		}
	}
}

func TestUnknownPathIs404(t *testing.T) {
	s := newTestServer(Config{})
	req := httptest.NewRequest(http.MethodGet, "/not-a-real-path", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestOptionsIsCORSPreflightResponder(t *testing.T) {
	s := newTestServer(Config{})
	req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", w.Code)
	}
}

func TestMetricsEndpointIs404WhenDisabled(t *testing.T) {
	s := newTestServer(Config{EnableInternalStats: false})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics to 404 when not enabled, got %d", w.Code)
	}
}

func TestMetricsEndpointRequiresTokenWhenConfigured(t *testing.T) {
	s := newTestServer(Config{EnableInternalStats: true, InternalStatsToken: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Internal-Token", "secret")
	w = httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", w.Code)
	}
}

func TestOriginAllowedExactMatchAfterTrim(t *testing.T) {
	allowlist := []string{" https://example.com ", "https://foo.example"}
	if !originAllowed("https://example.com", allowlist) {
		t.Fatalf("allow-listed origin (trimmed) should be allowed")
	}
	if originAllowed("https://evil.example", allowlist) {
		t.Fatalf("non-allow-listed origin should be refused")
	}
}

func TestOriginAllowedAnyWhenUnconfigured(t *testing.T) {
	if !originAllowed("https://anything.example", nil) {
		t.Fatalf("an empty allow-list should accept any origin (dev default)")
	}
}

func TestHandleWSRejectsDisallowedOrigin(t *testing.T) {
	s := newTestServer(Config{Origins: []string{"https://good.example"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed origin, got %d", resp.StatusCode)
	}
}

func TestHandleWSRateLimitsRepeatedAdmissions(t *testing.T) {
	s := newTestServer(Config{})
	s.limiter = newRateLimiter(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/ws", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	first := get()
	second := get()
	if second != http.StatusTooManyRequests {
		t.Fatalf("second admission from the same key should be rate-limited, first=%d second=%d", first, second)
	}
}
