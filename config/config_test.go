package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"okxfeed/models"
)

// writeTempConfig writes content to a temporary config file and returns its
// path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func clearOKXEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OKX_API_KEY", "OKX_SECRET_KEY", "OKX_PASSPHRASE", "OKX_WS_PUBLIC_URL", "OKX_WS_PRIVATE_URL", "APP_ENV"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearOKXEnv(t)
	path := writeTempConfig(t, `okxfeed:
  name: "TestApp"
  version: "1.0"
heartbeat:
  interval: 5s
  pong_timeout: 8s
reconnect:
  max_attempts: 7
  base_delay: 500ms
  max_delay: 10s
channels:
  event_buffer: 16
  overflow_policy: block
subscriptions:
  - channel: tickers
    inst_id: BTC-USDT
  - channel: candle1m
    inst_id: ETH-USDT
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Okxfeed.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Okxfeed.Name)
	}
	if cfg.Heartbeat.Interval != 5*time.Second || cfg.Heartbeat.PongTimeout != 8*time.Second {
		t.Errorf("unexpected heartbeat: %+v", cfg.Heartbeat)
	}
	if cfg.Reconnect.MaxAttempts != 7 || cfg.Reconnect.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected reconnect: %+v", cfg.Reconnect)
	}
	// untouched sections keep their defaults
	if cfg.Reconnect.Multiplier != 2 || cfg.Stream.PublicURL != DefaultPublicURL {
		t.Errorf("defaults not applied: %+v %+v", cfg.Reconnect, cfg.Stream)
	}
	if cfg.Channels.OverflowPolicy != OverflowBlock || cfg.Channels.SendBuffer != 64 {
		t.Errorf("unexpected channels: %+v", cfg.Channels)
	}
	want := []models.SubscriptionKey{
		models.Key(models.ChannelTickers, "BTC-USDT"),
		models.Key(models.ChannelCandle1m, "ETH-USDT"),
	}
	if len(cfg.Subscriptions) != 2 || cfg.Subscriptions[0] != want[0] || cfg.Subscriptions[1] != want[1] {
		t.Errorf("unexpected subscriptions: %v", cfg.Subscriptions)
	}
}

func TestLoadConfigCredentialsFromEnv(t *testing.T) {
	clearOKXEnv(t)
	t.Setenv("OKX_API_KEY", " key ")
	t.Setenv("OKX_SECRET_KEY", "secret")
	t.Setenv("OKX_PASSPHRASE", "pass")

	path := writeTempConfig(t, `okxfeed:
  name: app
subscriptions:
  - channel: account
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Credentials.APIKey != "key" || !cfg.Credentials.Complete() {
		t.Fatalf("credentials not loaded from env: %s", cfg.Credentials)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing name":       "okxfeed:\n  name: \"\"\n",
		"bad url":            "okxfeed:\n  name: a\nstream:\n  public_url: https://ws.okx.com\n",
		"pong before ping":   "okxfeed:\n  name: a\nheartbeat:\n  interval: 30s\n  pong_timeout: 20s\n",
		"cap below base":     "okxfeed:\n  name: a\nreconnect:\n  base_delay: 10s\n  max_delay: 1s\n",
		"bad policy":         "okxfeed:\n  name: a\nchannels:\n  overflow_policy: unbounded\n",
		"unknown channel":    "okxfeed:\n  name: a\nsubscriptions:\n  - channel: funding-rate\n    inst_id: BTC-USDT-SWAP\n",
		"public without id":  "okxfeed:\n  name: a\nsubscriptions:\n  - channel: tickers\n",
		"private no creds":   "okxfeed:\n  name: a\nsubscriptions:\n  - channel: orders\n",
		"partial creds":      "okxfeed:\n  name: a\ncredentials:\n  api_key: k\n",
		"bad local ip":       "okxfeed:\n  name: a\nstream:\n  local_ip: not-an-ip\n",
		"negative attempts":  "okxfeed:\n  name: a\nreconnect:\n  max_attempts: -1\n",
		"zero attempts":      "okxfeed:\n  name: a\nreconnect:\n  max_attempts: 0\n",
		"zero connect limit": "okxfeed:\n  name: a\nrate_limit:\n  connects_per_second: 0\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			clearOKXEnv(t)
			if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestProductionRequiresTLS(t *testing.T) {
	clearOKXEnv(t)
	path := writeTempConfig(t, "okxfeed:\n  name: a\nstream:\n  public_url: ws://localhost:8080/ws\n")

	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("plain ws should be fine in development: %v", err)
	}
	t.Setenv("APP_ENV", "prod")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "wss://") {
		t.Fatalf("expected wss error in production, got %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Fatalf("development should use default path, got %s", got)
	}
	t.Setenv("APP_ENV", "producation")
	if got := ResolvePath(DefaultPath); got != "config/config.prod.yml" {
		t.Fatalf("production alias not resolved, got %s", got)
	}
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Fatalf("explicit path should win, got %s", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("production should be production-like")
	}
}

func TestReconnectAttemptsAreBoundedByDefault(t *testing.T) {
	clearOKXEnv(t)
	if got := Default().Reconnect; got.Unlimited || got.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("default reconnect must be bounded, got %+v", got)
	}

	cfg, err := LoadConfig(writeTempConfig(t, "okxfeed:\n  name: a\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, cfg.Reconnect.MaxAttempts)
	}

	cfg, err = LoadConfig(writeTempConfig(t, "okxfeed:\n  name: a\nreconnect:\n  max_attempts: 0\n  unlimited: true\n"))
	if err != nil {
		t.Fatalf("unlimited opt-in should load: %v", err)
	}
	if !cfg.Reconnect.Unlimited {
		t.Fatalf("expected unlimited reconnects")
	}
}
