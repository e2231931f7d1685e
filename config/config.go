package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"okxfeed/models"
)

const (
	DefaultPublicURL  = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultPrivateURL = "wss://ws.okx.com:8443/ws/v5/private"

	OverflowDropOldest = "drop_oldest"
	OverflowDropNewest = "drop_newest"
	OverflowBlock      = "block"
)

type Config struct {
	Okxfeed       AppConfig                `yaml:"okxfeed"`
	Stream        StreamConfig             `yaml:"stream"`
	Heartbeat     HeartbeatConfig          `yaml:"heartbeat"`
	Reconnect     ReconnectConfig          `yaml:"reconnect"`
	RateLimit     RateLimitConfig          `yaml:"rate_limit"`
	Channels      ChannelsConfig           `yaml:"channels"`
	Subscriptions []models.SubscriptionKey `yaml:"subscriptions"`
	Credentials   models.Credentials       `yaml:"credentials"`
	Metrics       MetricsConfig            `yaml:"metrics"`
	CloudWatch    CloudWatchConfig         `yaml:"cloudwatch"`
	Logging       LoggingConfig            `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StreamConfig struct {
	PublicURL        string        `yaml:"public_url"`
	PrivateURL       string        `yaml:"private_url"`
	LocalIP          string        `yaml:"local_ip"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	LoginTimeout     time.Duration `yaml:"login_timeout"`
	MaxArgsPerFrame  int           `yaml:"max_args_per_frame"`
	ReadLimit        int64         `yaml:"read_limit"`
}

type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval"`
	PongTimeout time.Duration `yaml:"pong_timeout"`
}

// DefaultMaxAttempts bounds reconnect dials per episode unless Unlimited is
// set.
const DefaultMaxAttempts = 20

type ReconnectConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// Unlimited retries forever and ignores MaxAttempts.
	Unlimited   bool          `yaml:"unlimited"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	Jitter      bool          `yaml:"jitter"`
}

type RateLimitConfig struct {
	OpsPerHour        int     `yaml:"ops_per_hour"`
	OpsBurst          int     `yaml:"ops_burst"`
	ConnectsPerSecond float64 `yaml:"connects_per_second"`
}

type ChannelsConfig struct {
	EventBuffer    int    `yaml:"event_buffer"`
	OverflowPolicy string `yaml:"overflow_policy"`
	SendBuffer     int    `yaml:"send_buffer"`
}

type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns a configuration that works against production OKX without
// a file.
func Default() *Config {
	return &Config{
		Okxfeed: AppConfig{Name: "okxfeed", Version: "dev"},
		Stream: StreamConfig{
			PublicURL:        DefaultPublicURL,
			PrivateURL:       DefaultPrivateURL,
			HandshakeTimeout: 10 * time.Second,
			LoginTimeout:     10 * time.Second,
			MaxArgsPerFrame:  100,
			ReadLimit:        1 << 22,
		},
		Heartbeat: HeartbeatConfig{
			Interval:    20 * time.Second,
			PongTimeout: 30 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2,
		},
		RateLimit: RateLimitConfig{
			OpsPerHour:        480,
			OpsBurst:          20,
			ConnectsPerSecond: 3,
		},
		Channels: ChannelsConfig{
			EventBuffer:    1024,
			OverflowPolicy: OverflowDropOldest,
			SendBuffer:     64,
		},
		Metrics: MetricsConfig{
			Addr:           "0.0.0.0:2112",
			ReportInterval: 30 * time.Second,
		},
		CloudWatch: CloudWatchConfig{
			Namespace: "OKXFeed",
			Dashboard: "OKXFeed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyEnv lets credentials and endpoints come from the environment so
// secrets stay out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		cfg.Credentials.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		cfg.Credentials.Secret = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		cfg.Credentials.Passphrase = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_WS_PUBLIC_URL"); v != "" {
		cfg.Stream.PublicURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_WS_PRIVATE_URL"); v != "" {
		cfg.Stream.PrivateURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.CloudWatch.Region == "" {
		cfg.CloudWatch.Region = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Okxfeed.Name == "" {
		return fmt.Errorf("okxfeed.name is required")
	}

	for name, raw := range map[string]string{
		"stream.public_url":  cfg.Stream.PublicURL,
		"stream.private_url": cfg.Stream.PrivateURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("%s must be a ws:// or wss:// URL, got '%s'", name, raw)
		}
		if u.Scheme != "wss" && IsProductionLike(getAppEnvironment()) {
			return fmt.Errorf("%s must use wss:// in %s", name, getAppEnvironment())
		}
	}
	if cfg.Stream.LocalIP != "" && net.ParseIP(cfg.Stream.LocalIP) == nil {
		return fmt.Errorf("stream.local_ip '%s' is not an IP address", cfg.Stream.LocalIP)
	}
	if cfg.Stream.MaxArgsPerFrame <= 0 {
		return fmt.Errorf("stream.max_args_per_frame must be greater than 0")
	}
	if cfg.Stream.LoginTimeout <= 0 {
		return fmt.Errorf("stream.login_timeout must be greater than 0")
	}

	if cfg.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be greater than 0")
	}
	if cfg.Heartbeat.PongTimeout <= cfg.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.pong_timeout must be greater than heartbeat.interval")
	}

	if !cfg.Reconnect.Unlimited && cfg.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be greater than 0 (set reconnect.unlimited to retry forever)")
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be greater than 0")
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must not be smaller than reconnect.base_delay")
	}
	if cfg.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1")
	}

	if cfg.RateLimit.OpsPerHour <= 0 || cfg.RateLimit.OpsBurst <= 0 {
		return fmt.Errorf("rate_limit.ops_per_hour and rate_limit.ops_burst must be greater than 0")
	}
	if cfg.RateLimit.ConnectsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.connects_per_second must be greater than 0")
	}

	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}
	if cfg.Channels.SendBuffer <= 0 {
		return fmt.Errorf("channels.send_buffer must be greater than 0")
	}
	switch cfg.Channels.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest, OverflowBlock:
	default:
		return fmt.Errorf("channels.overflow_policy '%s' is invalid", cfg.Channels.OverflowPolicy)
	}

	for _, k := range cfg.Subscriptions {
		if err := k.Validate(); err != nil {
			return fmt.Errorf("subscriptions: %w", err)
		}
		if k.Channel.Visibility() == models.Private && !cfg.Credentials.Complete() {
			return fmt.Errorf("subscriptions: %s needs credentials", k)
		}
	}
	if !cfg.Credentials.IsZero() && !cfg.Credentials.Complete() {
		return fmt.Errorf("credentials: api_key, secret_key and passphrase must all be set")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}
