package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netgauge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "endpoint:\n  base_url: https://probe.example.com\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Diagnostics.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Diagnostics.Attempts)
	}
	if cfg.Diagnostics.RetainLimitBytes != 64<<20 {
		t.Fatalf("unexpected retain limit %d", cfg.Diagnostics.RetainLimitBytes)
	}
	if cfg.Diagnostics.Interval.Enabled() {
		t.Fatalf("expected periodic runs disabled by default")
	}
	if cfg.History.Backend != "memory" {
		t.Fatalf("expected memory history, got %q", cfg.History.Backend)
	}
	if cfg.Control.BindAddr != "127.0.0.1" || cfg.Control.BindPort != 8080 {
		t.Fatalf("unexpected control address %s:%d", cfg.Control.BindAddr, cfg.Control.BindPort)
	}
	if !cfg.Control.Metrics.IsEnabled() || !cfg.Estimate.DetectEnabled() {
		t.Fatalf("expected metrics and medium detection enabled")
	}
	if cfg.Estimate.DownloadMbps != 100 || cfg.Estimate.UploadMbps != 20 {
		t.Fatalf("unexpected default speeds %v/%v", cfg.Estimate.DownloadMbps, cfg.Estimate.UploadMbps)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if err := cfg.ValidateControl(); err == nil {
		t.Fatalf("expected missing auth token to fail control validation")
	}
}

func TestLoadConfigFull(t *testing.T) {
	body := `
endpoint:
  base_url: http://10.0.0.5:3000/
  timeout: 30
diagnostics:
  attempts: 5
  backoff: 250ms
  probe_timeout: 2s
  retain_limit: 8mb
  interval:
    min: 5m
    max: 10m
  ping:
    method: TCP
    samples: 4
    port: 443
dns:
  servers: ["1.1.1.1"]
history:
  backend: sqlite
control:
  auth_token: secret
  metrics:
    enabled: false
estimate:
  default_medium: ethernet
  detect_medium: false
  default_download: 1g
log:
  level: DEBUG
  format: rfc5424
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.Timeout.Duration() != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.Endpoint.Timeout.Duration())
	}
	if cfg.Diagnostics.Backoff.Duration() != 250*time.Millisecond {
		t.Fatalf("unexpected backoff %s", cfg.Diagnostics.Backoff.Duration())
	}
	if cfg.Diagnostics.Ping.Method != "tcp" || cfg.Diagnostics.Ping.Samples != 4 {
		t.Fatalf("unexpected ping config %+v", cfg.Diagnostics.Ping)
	}
	if !cfg.Diagnostics.Interval.Enabled() || cfg.Diagnostics.Interval.Max.Duration() != 10*time.Minute {
		t.Fatalf("unexpected interval %+v", cfg.Diagnostics.Interval)
	}
	if cfg.History.DSN == "" {
		t.Fatalf("expected sqlite default dsn")
	}
	if cfg.Control.Metrics.IsEnabled() || cfg.Estimate.DetectEnabled() {
		t.Fatalf("expected metrics and detection disabled")
	}
	if cfg.Estimate.DownloadMbps != 1000 {
		t.Fatalf("expected 1000 Mbps, got %v", cfg.Estimate.DownloadMbps)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected normalized level, got %q", cfg.Log.Level)
	}
	if err := cfg.ValidateControl(); err != nil {
		t.Fatalf("control validation: %v", err)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("NETGAUGE_ENDPOINT_URL", "https://override.example.com")
	t.Setenv("NETGAUGE_AUTH_TOKEN", "from-env")
	t.Setenv("NETGAUGE_CONTROL_PORT", "9090")
	t.Setenv("NETGAUGE_HISTORY_BACKEND", "badger")

	cfg, err := LoadConfig(writeConfig(t, "endpoint:\n  base_url: https://file.example.com\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.BaseURL != "https://override.example.com" {
		t.Fatalf("expected env endpoint, got %q", cfg.Endpoint.BaseURL)
	}
	if cfg.Control.AuthToken != "from-env" || cfg.Control.BindPort != 9090 {
		t.Fatalf("unexpected control config %+v", cfg.Control)
	}
	if cfg.History.Backend != "badger" {
		t.Fatalf("expected badger backend, got %q", cfg.History.Backend)
	}
}

func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv("NETGAUGE_ENDPOINT_URL", "http://127.0.0.1:3000")
	if _, err := LoadConfig(""); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing endpoint", "diagnostics:\n  attempts: 2\n", "endpoint.base_url must not be empty"},
		{"bad scheme", "endpoint:\n  base_url: ftp://x\n", "endpoint.base_url must be an http(s) URL"},
		{"attempts", "endpoint:\n  base_url: http://x\ndiagnostics:\n  attempts: 11\n", "diagnostics.attempts"},
		{"ping method", "endpoint:\n  base_url: http://x\ndiagnostics:\n  ping:\n    method: udp\n", "diagnostics.ping.method"},
		{"interval", "endpoint:\n  base_url: http://x\ndiagnostics:\n  interval:\n    min: 1s\n", "diagnostics.interval.min"},
		{"interval order", "endpoint:\n  base_url: http://x\ndiagnostics:\n  interval:\n    min: 10m\n    max: 1m\n", "diagnostics.interval.max"},
		{"retain", "endpoint:\n  base_url: http://x\ndiagnostics:\n  retain_limit: lots\n", "diagnostics.retain_limit"},
		{"history", "endpoint:\n  base_url: http://x\nhistory:\n  backend: redis\n", "history.backend"},
		{"medium", "endpoint:\n  base_url: http://x\nestimate:\n  default_medium: satellite\n", "estimate.default_medium"},
		{"speed", "endpoint:\n  base_url: http://x\nestimate:\n  default_upload: \"20\"\n", "estimate.default_upload"},
		{"log format", "endpoint:\n  base_url: http://x\nlog:\n  format: xml\n", "log.format"},
	}
	for _, tc := range cases {
		_, err := LoadConfig(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]uint64{
		"":      0,
		"4096":  4096,
		"500kb": 500 << 10,
		"64MB":  64 << 20,
		"1.5gb": 3 << 29,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil || got != want {
			t.Fatalf("ParseSize(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, bad := range []string{"mb", "-1kb", "12x"} {
		if _, err := ParseSize(bad); err == nil {
			t.Fatalf("ParseSize(%q) expected error", bad)
		}
	}
}

func TestParseBandwidth(t *testing.T) {
	cases := map[string]uint64{
		"0":    0,
		"100k": 100_000,
		"10M":  10_000_000,
		"1.5g": 1_500_000_000,
	}
	for in, want := range cases {
		got, err := ParseBandwidth(in)
		if err != nil || got != want {
			t.Fatalf("ParseBandwidth(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, bad := range []string{"100", "k", "-5m"} {
		if _, err := ParseBandwidth(bad); err == nil {
			t.Fatalf("ParseBandwidth(%q) expected error", bad)
		}
	}
}
