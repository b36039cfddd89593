package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchHealthParsesSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","room_count":2,"client_count":4}`))
	}))
	defer ts.Close()

	ops := newOpsClient(Config{BaseURL: ts.URL, HealthURL: "/health"})
	snap, err := ops.FetchHealth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RoomCount != 2 || snap.ClientCount != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestFetchMetricsParsesPrometheusExposition(t *testing.T) {
	body := "# HELP wisp_messages_dropped_total total dropped\n" +
		"# TYPE wisp_messages_dropped_total counter\n" +
		"wisp_messages_dropped_total 7\n"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Internal-Token"); got != "secret" {
			t.Errorf("expected token header to be forwarded, got %q", got)
		}
		w.Write([]byte(body))
	}))
	defer ts.Close()

	ops := newOpsClient(Config{BaseURL: ts.URL, MetricsURL: "/metrics", MetricsToken: "secret"})
	snap, err := ops.FetchMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MessagesDroppedTotal != 7 {
		t.Fatalf("expected 7 dropped messages, got %v", snap.MessagesDroppedTotal)
	}
}

func TestFetchMetricsErrorsOnNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	ops := newOpsClient(Config{BaseURL: ts.URL, MetricsURL: "/metrics"})
	if _, err := ops.FetchMetrics(context.Background()); err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}
