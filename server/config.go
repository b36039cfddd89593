package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read once at process start from the environment: PORT and
// ALLOWED_ORIGINS, plus the ambient additions needed to run a real service.
type Config struct {
	Port    string
	Origins []string // empty means "accept any origin" (dev default)

	Env      string // "dev" or "production"; governs zap encoder choice
	LogLevel string

	EnableInternalStats bool
	InternalStatsToken  string

	ShutdownTimeout time.Duration
}

func loadConfig() Config {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	cfg := Config{
		Port:                port,
		Origins:             parseOrigins(os.Getenv("ALLOWED_ORIGINS")),
		Env:                 envOrDefault("WISP_ENV", "dev"),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		EnableInternalStats: strings.EqualFold(os.Getenv("ENABLE_INTERNAL_STATS"), "1") || strings.EqualFold(os.Getenv("ENABLE_INTERNAL_STATS"), "true"),
		InternalStatsToken:  os.Getenv("INTERNAL_STATS_TOKEN"),
		ShutdownTimeout:     30 * time.Second,
	}

	if raw := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.ShutdownTimeout = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}
