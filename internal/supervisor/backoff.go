package supervisor

import (
	"time"

	"github.com/jpillora/backoff"
)

type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter randomizes each delay between Base and the computed value, so
	// delays may shrink between attempts when it is on.
	Jitter bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Second, Max: 30 * time.Second, Multiplier: 2}
}

func newBackoff(cfg BackoffConfig) *backoff.Backoff {
	def := DefaultBackoff()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &backoff.Backoff{
		Min:    cfg.Base,
		Max:    cfg.Max,
		Factor: cfg.Multiplier,
		Jitter: cfg.Jitter,
	}
}
