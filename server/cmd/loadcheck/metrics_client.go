package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// HealthSnapshot mirrors the hub's /health payload (server/entry.go
// healthResponse), used to wait for the room/client counts to settle before
// ramping a step.
type HealthSnapshot struct {
	Status      string `json:"status"`
	RoomCount   int    `json:"room_count"`
	ClientCount int    `json:"client_count"`
}

// MetricsSnapshot is the handful of Prometheus counters this harness reads
// back between steps. Parsed with prometheus/common/expfmt, the same
// exposition-format decoder the rest of the ecosystem uses, rather than
// hand-scanning the text format.
type MetricsSnapshot struct {
	MessagesDroppedTotal float64
}

type opsClient struct {
	httpClient *http.Client
	baseURL    string
	healthURL  string
	metricsURL string
	token      string
}

func newOpsClient(cfg Config) *opsClient {
	return &opsClient{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		healthURL:  cfg.HealthURL,
		metricsURL: cfg.MetricsURL,
		token:      cfg.MetricsToken,
	}
}

func (c *opsClient) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base.Path = path
	base.RawQuery = ""
	base.Fragment = ""
	return base.String(), nil
}

func (c *opsClient) FetchHealth(ctx context.Context) (HealthSnapshot, error) {
	var snap HealthSnapshot
	endpoint, err := c.resolve(c.healthURL)
	if err != nil {
		return snap, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("health endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func (c *opsClient) FetchMetrics(ctx context.Context) (MetricsSnapshot, error) {
	var snap MetricsSnapshot
	endpoint, err := c.resolve(c.metricsURL)
	if err != nil {
		return snap, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snap, err
	}
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return snap, fmt.Errorf("metrics endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	families, err := parseMetricsFamilies(resp.Body)
	if err != nil {
		return snap, err
	}

	if mf, ok := families["wisp_messages_dropped_total"]; ok {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				snap.MessagesDroppedTotal += c.GetValue()
			}
		}
	}
	return snap, nil
}

func parseMetricsFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	return parser.TextToMetricFamilies(r)
}
