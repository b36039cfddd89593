package main

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// serviceName appears in the /health payload.
const serviceName = "wisp"

// originAllowed is the single canonicalization routine both the CORS header
// logic and handleWS's pre-upgrade origin check use, so the two paths can never
// disagree: exact match after trimming surrounding whitespace, on both
// sides, or any origin when no allow-list is configured (development
// default).
func originAllowed(origin string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	origin = strings.TrimSpace(origin)
	for _, allowed := range allowlist {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	return false
}

// setSecurityHeaders applies the fixed response headers required on every
// response, upgrade and health included.
func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy",
		"default-src 'self'; font-src 'self' https://fonts.gstatic.com; "+
			"connect-src 'self' ws: wss:; style-src 'self' https://fonts.googleapis.com")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
}

// setCORSHeaders echoes the request origin when it is on the allow-list, or
// allows any origin when no allow-list is configured.
func setCORSHeaders(w http.ResponseWriter, r *http.Request, allowlist []string) {
	origin := r.Header.Get("Origin")
	if len(allowlist) == 0 {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else if originAllowed(origin, allowlist) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Internal-Token")
}

type server struct {
	cfg     Config
	hub     *Hub
	limiter *RateLimiter
	started time.Time
}

// withHeaders applies security and CORS headers to every response and
// answers CORS preflight requests for any path, ahead of routing.
func (s *server) withHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		setCORSHeaders(w, r, s.cfg.Origins)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// upgrader's CheckOrigin always accepts: handleWS already applies
// originAllowed via the shared canonicalization routine before upgrading,
// so a second origin check here would just duplicate that decision.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS is the HTTP-upgrade endpoint. It rate-limits, then origin-checks,
// before upgrading.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := clientIPKey(r)
	if !s.limiter.Allow(key) {
		s.hub.metrics.AdmissionsRefused.Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	origin := r.Header.Get("Origin")
	if !originAllowed(origin, s.cfg.Origins) {
		s.hub.metrics.AdmissionsRefused.Inc()
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.metrics.UpgradeFailures.Inc()
		s.hub.logger.Debugw("upgrade failed", "err", err)
		return
	}

	client := newClient(s.hub, generateClientID(), key, conn)
	// Register synchronously, before starting the pumps: the connected
	// frame must be the first thing enqueued onto the client's outbox,
	// ahead of anything a concurrent JoinRoom/route could deliver to it.
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

type healthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	TotalConnections int64  `json:"total_connections"`
	RoomCount        int    `json:"room_count"`
	ClientCount      int    `json:"client_count"`
	Version          string `json:"version"`
	Timestamp        string `json:"timestamp"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rooms, clients, total := s.hub.snapshotCounts()
	resp := healthResponse{
		Status:           "healthy",
		Service:          serviceName,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		TotalConnections: total,
		RoomCount:        rooms,
		ClientCount:      clients,
		Version:          version,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleMetrics is the token-gated Prometheus endpoint. It 404s unless
// explicitly enabled, keeping the default HTTP surface closed.
func (s *server) handleMetrics(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.EnableInternalStats {
			http.NotFound(w, r)
			return
		}
		if s.cfg.InternalStatsToken != "" {
			got := r.Header.Get("X-Internal-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.InternalStatsToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.withHeaders(s.handleWS))
	mux.HandleFunc("/health", s.withHeaders(s.handleHealth))
	mux.HandleFunc("/metrics", s.withHeaders(s.handleMetrics(promhttp.HandlerFor(s.hub.metrics.Registry, promhttp.HandlerOpts{}))))
	mux.HandleFunc("/", s.withHeaders(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	return mux
}
