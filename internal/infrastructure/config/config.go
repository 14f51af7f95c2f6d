package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Remote    RemoteConfig
	Sync      SyncConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// StoreConfig holds on-device database settings
type StoreConfig struct {
	Path          string // SQLite file path, ":memory:" for an in-memory store
	BatchSize     int    // rows per INSERT statement inside an upsert transaction
	MaxOpenConns  int
	BusyTimeout   time.Duration
	LogLevel      string        // gorm log level: silent, error, warn, info
	SlowThreshold time.Duration // statements slower than this are logged at warn
}

// RemoteConfig holds backend connection settings
type RemoteConfig struct {
	BaseURL          string
	Token            string // opaque bearer token, normally injected by the auth flow
	FetchTimeout     time.Duration
	SyncTimeout      time.Duration
	MaxResponseBytes int64
	SyncCheckPath    string
	BundlePath       string
}

// SyncConfig holds staleness negotiation and refresh settings
type SyncConfig struct {
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	FreshnessWindow    time.Duration
	FreshnessOverrides map[string]time.Duration // per dataset key
	CheckSchedule      string                   // cron expression, empty disables periodic checks
	RefreshWorkers     int
	RefreshQueueSize   int
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	ServiceName       string
	CollectorEndpoint string // OTLP gRPC endpoint, e.g. localhost:4317
	Insecure          bool
	SamplingRatio     float64
	ExportInterval    time.Duration
	TraceStore        bool // add otelgorm spans around store statements
}

// Load loads configuration from config.toml and environment variables
// Priority (highest to lowest):
// 1. Environment variables with HUB_ prefix (e.g., HUB_REMOTE_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file; an empty path searches
// the default locations.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.hubsync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	overrides, err := parseOverrides(v.GetStringMapString("sync.freshness_overrides"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Store: StoreConfig{
			Path:          v.GetString("store.path"),
			BatchSize:     v.GetInt("store.batch_size"),
			MaxOpenConns:  v.GetInt("store.max_open_conns"),
			BusyTimeout:   v.GetDuration("store.busy_timeout"),
			LogLevel:      v.GetString("store.log_level"),
			SlowThreshold: v.GetDuration("store.slow_threshold"),
		},
		Remote: RemoteConfig{
			BaseURL:          v.GetString("remote.base_url"),
			Token:            v.GetString("remote.token"),
			FetchTimeout:     v.GetDuration("remote.fetch_timeout"),
			SyncTimeout:      v.GetDuration("remote.sync_timeout"),
			MaxResponseBytes: v.GetInt64("remote.max_response_bytes"),
			SyncCheckPath:    v.GetString("remote.sync_check_path"),
			BundlePath:       v.GetString("remote.bundle_path"),
		},
		Sync: SyncConfig{
			MaxRetries:         v.GetInt("sync.max_retries"),
			InitialBackoff:     v.GetDuration("sync.initial_backoff"),
			MaxBackoff:         v.GetDuration("sync.max_backoff"),
			FreshnessWindow:    v.GetDuration("sync.freshness_window"),
			FreshnessOverrides: overrides,
			CheckSchedule:      v.GetString("sync.check_schedule"),
			RefreshWorkers:     v.GetInt("sync.refresh_workers"),
			RefreshQueueSize:   v.GetInt("sync.refresh_queue_size"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			ServiceName:       v.GetString("telemetry.service_name"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			Insecure:          v.GetBool("telemetry.insecure"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			TraceStore:        v.GetBool("telemetry.trace_store"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseOverrides converts {"housing": "6h"} into durations
func parseOverrides(raw map[string]string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(raw))
	for key, value := range raw {
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("sync.freshness_overrides.%s: %w", key, err)
		}
		out[key] = d
	}
	return out, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "hubsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "hubsync.db"
	}
	if cfg.Store.BatchSize == 0 {
		cfg.Store.BatchSize = 100
	}
	if cfg.Store.MaxOpenConns == 0 {
		// SQLite allows one writer; a single connection keeps transactions serial
		cfg.Store.MaxOpenConns = 1
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = 5 * time.Second
	}
	if cfg.Store.LogLevel == "" {
		cfg.Store.LogLevel = "warn"
	}
	if cfg.Store.SlowThreshold == 0 {
		cfg.Store.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Remote.FetchTimeout == 0 {
		cfg.Remote.FetchTimeout = 8 * time.Second
	}
	if cfg.Remote.SyncTimeout == 0 {
		cfg.Remote.SyncTimeout = 10 * time.Second
	}
	if cfg.Remote.MaxResponseBytes == 0 {
		cfg.Remote.MaxResponseBytes = 10 << 20 // 10MB
	}
	if cfg.Remote.SyncCheckPath == "" {
		cfg.Remote.SyncCheckPath = "/sync/check"
	}
	if cfg.Remote.BundlePath == "" {
		cfg.Remote.BundlePath = "/university-data"
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.InitialBackoff == 0 {
		cfg.Sync.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Sync.MaxBackoff == 0 {
		cfg.Sync.MaxBackoff = 10 * time.Second
	}
	if cfg.Sync.FreshnessWindow == 0 {
		cfg.Sync.FreshnessWindow = 24 * time.Hour
	}
	if cfg.Sync.FreshnessOverrides == nil {
		cfg.Sync.FreshnessOverrides = map[string]time.Duration{}
	}
	if cfg.Sync.RefreshWorkers == 0 {
		cfg.Sync.RefreshWorkers = 2
	}
	if cfg.Sync.RefreshQueueSize == 0 {
		cfg.Sync.RefreshQueueSize = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "hubsync"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be positive")
	}
	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("store.max_open_conns must be positive")
	}
	if c.Store.SlowThreshold < 0 {
		return fmt.Errorf("store.slow_threshold cannot be negative")
	}
	if c.Remote.FetchTimeout < 0 || c.Remote.SyncTimeout < 0 {
		return fmt.Errorf("remote timeouts cannot be negative")
	}
	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("remote.base_url scheme must be http or https, got %q", u.Scheme)
		}
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	if c.Sync.InitialBackoff > c.Sync.MaxBackoff {
		return fmt.Errorf("sync.initial_backoff (%s) cannot exceed sync.max_backoff (%s)",
			c.Sync.InitialBackoff, c.Sync.MaxBackoff)
	}
	for key, d := range c.Sync.FreshnessOverrides {
		if d <= 0 {
			return fmt.Errorf("sync.freshness_overrides.%s must be positive", key)
		}
	}
	if c.Sync.RefreshWorkers < 0 || c.Sync.RefreshQueueSize < 0 {
		return fmt.Errorf("sync.refresh_workers and sync.refresh_queue_size cannot be negative")
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required in production")
		}
		if !strings.HasPrefix(c.Remote.BaseURL, "https://") {
			return fmt.Errorf("remote.base_url must use https in production")
		}
		if c.Store.Path == ":memory:" {
			return fmt.Errorf("store.path cannot be in-memory in production")
		}
	}

	return nil
}

// FreshnessFor returns the freshness window for a dataset key
func (s *SyncConfig) FreshnessFor(key string) time.Duration {
	if d, ok := s.FreshnessOverrides[key]; ok {
		return d
	}
	return s.FreshnessWindow
}

// DSN returns the SQLite connection string for the store
func (s *StoreConfig) DSN() string {
	if s.Path == ":memory:" {
		return ":memory:"
	}
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(s.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	return "file:" + s.Path + "?" + q.Encode()
}
