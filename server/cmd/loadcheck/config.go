package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the flags for one sweep run against Wisp's wire protocol and
// HTTP surface: no reconnect-storm knobs (the core has no reconnect/session
// persistence) and no room-id-secret flags (rendezvous codes are arbitrary
// human-chosen strings, not server-issued HMAC tokens).
type Config struct {
	BaseURL      string
	WSURL        string
	HealthURL    string
	MetricsURL   string
	MetricsToken string

	StartClients int
	StepClients  int
	MaxClients   int

	RampSeconds             int
	SteadySeconds           int
	CooldownSeconds         int
	PreRampStabilizeSeconds int

	OfferRatePerRoom float64

	ReportJSON string

	JoinTimeoutSeconds int

	MaxErrorRate      float64
	MaxJoinErrorRate  float64
	MaxJoinP95Ms      int64
	MaxSendQueueDrops int64
}

func parseConfig(args []string) (Config, error) {
	cfg := Config{}

	fs := flag.NewFlagSet("loadcheck", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "Base HTTP URL of the running hub")
	fs.StringVar(&cfg.WSURL, "ws-url", "", "WebSocket URL override (defaults to <base-url>/ws)")
	fs.StringVar(&cfg.HealthURL, "health-url", "/health", "Health endpoint path or absolute URL, polled before each step")
	fs.StringVar(&cfg.MetricsURL, "metrics-url", "/metrics", "Prometheus metrics endpoint path or absolute URL")
	fs.StringVar(&cfg.MetricsToken, "metrics-token", "", "Optional X-Internal-Token value for a token-gated metrics endpoint")

	fs.IntVar(&cfg.StartClients, "start-clients", 20, "Initial concurrent clients")
	fs.IntVar(&cfg.StepClients, "step-clients", 20, "Clients added per step")
	fs.IntVar(&cfg.MaxClients, "max-clients", 100, "Maximum concurrent clients")

	fs.IntVar(&cfg.RampSeconds, "ramp-seconds", 60, "Ramp duration per step in seconds")
	fs.IntVar(&cfg.SteadySeconds, "steady-seconds", 600, "Steady-state duration per step in seconds")
	fs.IntVar(&cfg.CooldownSeconds, "cooldown-seconds", 15, "Cooldown duration between steps in seconds")
	fs.IntVar(&cfg.PreRampStabilizeSeconds, "pre-ramp-stabilize-seconds", 10, "Wait time before each step ramp to let the hub's room/client counts settle")

	fs.Float64Var(&cfg.OfferRatePerRoom, "offer-rate-per-room", 0.2, "Relay (ice-candidate) message rate per room per second")

	fs.StringVar(&cfg.ReportJSON, "report-json", "", "Optional path to write a JSON report")
	fs.IntVar(&cfg.JoinTimeoutSeconds, "join-timeout-seconds", 20, "Per-client connect+rendezvous timeout in seconds")

	fs.Float64Var(&cfg.MaxErrorRate, "max-error-rate", 0.01, "Step pass threshold: max error rate")
	fs.Float64Var(&cfg.MaxJoinErrorRate, "max-join-error-rate", 0, "Step pass threshold: max rendezvous miss rate ((target-joinSuccess)/target)")
	fs.Int64Var(&cfg.MaxJoinP95Ms, "max-join-p95-ms", 2000, "Step pass threshold: max connect-to-rendezvous p95 in ms")
	fs.Int64Var(&cfg.MaxSendQueueDrops, "max-send-queue-drops", 0, "Step pass threshold: max outbox drops observed in the step")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.WSURL = strings.TrimSpace(cfg.WSURL)
	cfg.HealthURL = strings.TrimSpace(cfg.HealthURL)
	cfg.MetricsURL = strings.TrimSpace(cfg.MetricsURL)
	cfg.MetricsToken = strings.TrimSpace(cfg.MetricsToken)
	cfg.ReportJSON = strings.TrimSpace(cfg.ReportJSON)

	if cfg.WSURL == "" {
		base, _ := url.Parse(cfg.BaseURL)
		scheme := "ws"
		if strings.EqualFold(base.Scheme, "https") {
			scheme = "wss"
		}
		cfg.WSURL = fmt.Sprintf("%s://%s/ws", scheme, base.Host)
	}

	if cfg.ReportJSON != "" {
		cfg.ReportJSON = filepath.Clean(cfg.ReportJSON)
	}

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base-url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("base-url is invalid: %w", err)
	}

	if strings.TrimSpace(c.WSURL) != "" {
		u, err := url.ParseRequestURI(c.WSURL)
		if err != nil {
			return fmt.Errorf("ws-url is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New("ws-url must use ws or wss")
		}
	}

	if c.StartClients <= 0 || c.StepClients <= 0 || c.MaxClients <= 0 {
		return errors.New("start-clients, step-clients and max-clients must be > 0")
	}
	if c.MaxClients < c.StartClients {
		return errors.New("max-clients must be >= start-clients")
	}

	if c.RampSeconds <= 0 || c.SteadySeconds <= 0 || c.CooldownSeconds < 0 || c.PreRampStabilizeSeconds < 0 {
		return errors.New("ramp-seconds and steady-seconds must be > 0, cooldown-seconds and pre-ramp-stabilize-seconds must be >= 0")
	}

	if c.JoinTimeoutSeconds <= 0 {
		return errors.New("join-timeout-seconds must be > 0")
	}

	if c.OfferRatePerRoom < 0 {
		return errors.New("offer-rate-per-room must be >= 0")
	}

	if c.MaxErrorRate < 0 || c.MaxErrorRate > 1 {
		return errors.New("max-error-rate must be between 0 and 1")
	}
	if c.MaxJoinErrorRate < 0 || c.MaxJoinErrorRate > 1 {
		return errors.New("max-join-error-rate must be between 0 and 1")
	}
	if c.MaxJoinP95Ms < 0 {
		return errors.New("max-join-p95-ms must be >= 0")
	}
	if c.MaxSendQueueDrops < 0 {
		return errors.New("max-send-queue-drops must be >= 0")
	}

	return nil
}
