package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/netgauge/internal/estimate"
	"github.com/NodePath81/netgauge/internal/history"
	"github.com/NodePath81/netgauge/internal/probe"
	"github.com/NodePath81/netgauge/internal/util"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultEndpointTimeout = 60 * time.Second

	defaultAttempts      = 3
	defaultProbeTimeout  = 10 * time.Second
	defaultStreamTimeout = 5 * time.Minute
	defaultRetainLimit   = "64mb"
	defaultPingSamples   = 1
	defaultPingInterval  = 200 * time.Millisecond

	defaultControlAddr           = "127.0.0.1"
	defaultControlPort           = 8080
	defaultControlMetricsEnabled = true

	defaultMedium        = string(estimate.WiFi)
	defaultDetectMedium  = true
	defaultDownloadSpeed = "100m"
	defaultUploadSpeed   = "20m"
	defaultLatencyMs     = 20

	defaultLogLevel  = "info"
	defaultLogFormat = util.LogFormatText

	maxAttempts         = 10
	minScheduleInterval = 10 * time.Second

	EnvPrefix = "netgauge"
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Endpoint    EndpointConfig    `yaml:"endpoint"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	DNS         DNSConfig         `yaml:"dns"`
	GeoIP       GeoIPConfig       `yaml:"geoip"`
	History     HistoryConfig     `yaml:"history"`
	Control     ControlConfig     `yaml:"control"`
	Estimate    EstimateConfig    `yaml:"estimate"`
	Log         LogConfig         `yaml:"log"`
}

type EndpointConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type DiagnosticsConfig struct {
	Attempts      int            `yaml:"attempts"`
	Backoff       Duration       `yaml:"backoff"`
	Jitter        Duration       `yaml:"jitter"`
	ProbeTimeout  Duration       `yaml:"probe_timeout"`
	StreamTimeout Duration       `yaml:"stream_timeout"`
	RetainLimit   string         `yaml:"retain_limit"`
	Interval      IntervalConfig `yaml:"interval"`
	Ping          PingConfig     `yaml:"ping"`

	RetainLimitBytes int64 `yaml:"-"`
}

// IntervalConfig schedules periodic runs. Zero disables the schedule.
type IntervalConfig struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

func (i IntervalConfig) Enabled() bool {
	return i.Min > 0
}

type PingConfig struct {
	Method   string   `yaml:"method"`
	Samples  int      `yaml:"samples"`
	Interval Duration `yaml:"interval"`
	Port     int      `yaml:"port"`
}

type DNSConfig struct {
	Servers []string `yaml:"servers"`
}

type GeoIPConfig struct {
	Database string `yaml:"database"`
}

type HistoryConfig struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

type ControlConfig struct {
	BindAddr  string               `yaml:"bind_addr"`
	BindPort  int                  `yaml:"bind_port"`
	AuthToken string               `yaml:"auth_token"`
	Metrics   ControlMetricsConfig `yaml:"metrics"`
}

type ControlMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

func (m ControlMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultControlMetricsEnabled)
}

type EstimateConfig struct {
	DefaultMedium   string  `yaml:"default_medium"`
	DetectMedium    *bool   `yaml:"detect_medium"`
	DefaultDownload string  `yaml:"default_download"`
	DefaultUpload   string  `yaml:"default_upload"`
	DefaultLatency  float64 `yaml:"default_latency_ms"`

	DownloadMbps float64 `yaml:"-"`
	UploadMbps   float64 `yaml:"-"`
}

func (e EstimateConfig) DetectEnabled() bool {
	return util.BoolValue(e.DetectMedium, defaultDetectMedium)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides are read from NETGAUGE_* variables and win over the file.
type envOverrides struct {
	EndpointURL    string `envconfig:"ENDPOINT_URL"`
	AuthToken      string `envconfig:"AUTH_TOKEN"`
	ControlPort    int    `envconfig:"CONTROL_PORT"`
	HistoryBackend string `envconfig:"HISTORY_BACKEND"`
	HistoryDSN     string `envconfig:"HISTORY_DSN"`
	GeoIPDatabase  string `envconfig:"GEOIP_DATABASE"`
	PingMethod     string `envconfig:"PING_METHOD"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFormat      string `envconfig:"LOG_FORMAT"`
}

// LoadConfig reads path, applies environment overrides and defaults, then
// validates. An empty path yields a config built from the environment only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&c.Endpoint.BaseURL, env.EndpointURL)
	override(&c.Control.AuthToken, env.AuthToken)
	override(&c.History.Backend, env.HistoryBackend)
	override(&c.History.DSN, env.HistoryDSN)
	override(&c.GeoIP.Database, env.GeoIPDatabase)
	override(&c.Diagnostics.Ping.Method, env.PingMethod)
	override(&c.Log.Level, env.LogLevel)
	override(&c.Log.Format, env.LogFormat)
	if env.ControlPort != 0 {
		c.Control.BindPort = env.ControlPort
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Endpoint.Timeout == 0 {
		c.Endpoint.Timeout = Duration(defaultEndpointTimeout)
	}

	d := &c.Diagnostics
	if d.Attempts == 0 {
		d.Attempts = defaultAttempts
	}
	if d.ProbeTimeout == 0 {
		d.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if d.StreamTimeout == 0 {
		d.StreamTimeout = Duration(defaultStreamTimeout)
	}
	if d.RetainLimit == "" {
		d.RetainLimit = defaultRetainLimit
	}
	if d.Interval.Min > 0 && d.Interval.Max == 0 {
		d.Interval.Max = d.Interval.Min
	}
	if d.Ping.Method == "" {
		d.Ping.Method = string(probe.MethodHTTP)
	}
	if d.Ping.Samples == 0 {
		d.Ping.Samples = defaultPingSamples
	}
	if d.Ping.Interval == 0 {
		d.Ping.Interval = Duration(defaultPingInterval)
	}

	if c.History.Backend == "" {
		c.History.Backend = history.BackendMemory
	}
	if c.History.Backend == history.BackendSQLite && c.History.DSN == "" {
		c.History.DSN = history.DefaultSQLiteDSN
	}

	if c.Control.BindAddr == "" {
		c.Control.BindAddr = defaultControlAddr
	}
	if c.Control.BindPort == 0 {
		c.Control.BindPort = defaultControlPort
	}
	if c.Control.Metrics.Enabled == nil {
		enabled := defaultControlMetricsEnabled
		c.Control.Metrics.Enabled = &enabled
	}

	if c.Estimate.DefaultMedium == "" {
		c.Estimate.DefaultMedium = defaultMedium
	}
	if c.Estimate.DetectMedium == nil {
		detect := defaultDetectMedium
		c.Estimate.DetectMedium = &detect
	}
	if c.Estimate.DefaultDownload == "" {
		c.Estimate.DefaultDownload = defaultDownloadSpeed
	}
	if c.Estimate.DefaultUpload == "" {
		c.Estimate.DefaultUpload = defaultUploadSpeed
	}
	if c.Estimate.DefaultLatency == 0 {
		c.Estimate.DefaultLatency = defaultLatencyMs
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
}

func (c *Config) validate() error {
	c.Endpoint.BaseURL = strings.TrimSpace(c.Endpoint.BaseURL)
	if c.Endpoint.BaseURL == "" {
		return errors.New("endpoint.base_url must not be empty")
	}
	u, err := url.Parse(c.Endpoint.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint.base_url must be an http(s) URL: %q", c.Endpoint.BaseURL)
	}
	if c.Endpoint.Timeout.Duration() < 0 {
		return errors.New("endpoint.timeout must be >= 0")
	}

	d := &c.Diagnostics
	if d.Attempts <= 0 || d.Attempts > maxAttempts {
		return fmt.Errorf("diagnostics.attempts must be in 1..%d", maxAttempts)
	}
	if d.Backoff.Duration() < 0 || d.Jitter.Duration() < 0 {
		return errors.New("diagnostics.backoff and jitter must be >= 0")
	}
	if d.ProbeTimeout.Duration() < 0 || d.StreamTimeout.Duration() < 0 {
		return errors.New("diagnostics.probe_timeout and stream_timeout must be >= 0")
	}
	limit, err := ParseSize(d.RetainLimit)
	if err != nil {
		return fmt.Errorf("diagnostics.retain_limit: %w", err)
	}
	if limit == 0 {
		return errors.New("diagnostics.retain_limit must be > 0")
	}
	d.RetainLimitBytes = int64(limit)
	if d.Interval.Enabled() {
		if d.Interval.Min.Duration() < minScheduleInterval {
			return fmt.Errorf("diagnostics.interval.min must be >= %s", minScheduleInterval)
		}
		if d.Interval.Max < d.Interval.Min {
			return errors.New("diagnostics.interval.max must be >= min")
		}
	}
	d.Ping.Method = strings.ToLower(strings.TrimSpace(d.Ping.Method))
	if _, err := probe.ParseMethod(d.Ping.Method); err != nil {
		return fmt.Errorf("diagnostics.ping.method: %w", err)
	}
	if d.Ping.Samples <= 0 {
		return errors.New("diagnostics.ping.samples must be > 0")
	}
	if d.Ping.Port < 0 || d.Ping.Port > 65535 {
		return errors.New("diagnostics.ping.port must be in 0..65535")
	}

	for i, server := range c.DNS.Servers {
		if strings.TrimSpace(server) == "" {
			return fmt.Errorf("dns.servers[%d] must not be empty", i)
		}
	}

	switch c.History.Backend {
	case history.BackendMemory, history.BackendSQLite, history.BackendBadger:
	default:
		return fmt.Errorf("history.backend must be one of memory, sqlite, badger: %q", c.History.Backend)
	}

	if c.Control.BindPort <= 0 || c.Control.BindPort > 65535 {
		return errors.New("control.bind_port must be in 1..65535")
	}

	if err := c.validateEstimate(); err != nil {
		return err
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case util.LogFormatText, util.LogFormatJSON, util.LogFormatRFC5424:
	default:
		return fmt.Errorf("log.format must be one of text, json, rfc5424: %q", c.Log.Format)
	}
	return nil
}

// ValidateControl checks the settings only the control server needs.
func (c Config) ValidateControl() error {
	if c.Control.AuthToken == "" {
		return errors.New("control.auth_token must not be empty")
	}
	return nil
}

func (c *Config) validateEstimate() error {
	if _, ok := estimate.MediumFactor(estimate.Medium(c.Estimate.DefaultMedium)); !ok {
		return fmt.Errorf("estimate.default_medium: unknown medium %q", c.Estimate.DefaultMedium)
	}
	down, err := ParseBandwidth(c.Estimate.DefaultDownload)
	if err != nil {
		return fmt.Errorf("estimate.default_download: %w", err)
	}
	up, err := ParseBandwidth(c.Estimate.DefaultUpload)
	if err != nil {
		return fmt.Errorf("estimate.default_upload: %w", err)
	}
	if down == 0 || up == 0 {
		return errors.New("estimate.default_download and default_upload must be > 0")
	}
	c.Estimate.DownloadMbps = float64(down) / 1_000_000
	c.Estimate.UploadMbps = float64(up) / 1_000_000
	if c.Estimate.DefaultLatency < 0 {
		return errors.New("estimate.default_latency_ms must be >= 0")
	}
	return nil
}

// DefaultEstimate returns the estimate section with defaults applied, for
// callers that run without a config file.
func DefaultEstimate() (EstimateConfig, error) {
	var c Config
	c.setDefaults()
	if err := c.validateEstimate(); err != nil {
		return EstimateConfig{}, err
	}
	return c.Estimate, nil
}
