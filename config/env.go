package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Runtime holds environment-derived orchestration knobs shared by all agents.
type Runtime struct {
	SessionTTL        time.Duration `env:"CODECREW_SESSION_TTL" envDefault:"10m"`
	SweepInterval     time.Duration `env:"CODECREW_SWEEP_INTERVAL" envDefault:"5m"`
	MaxToolIterations int           `env:"CODECREW_MAX_TOOL_ITERATIONS" envDefault:"10"`
	HistoryLimit      int           `env:"CODECREW_HISTORY_LIMIT" envDefault:"30"`
	HistoryLineLimit  int           `env:"CODECREW_HISTORY_LINE_LIMIT" envDefault:"150"`
}

// LoadRuntime parses Runtime from the environment, falling back to defaults.
func LoadRuntime() (Runtime, error) {
	return env.ParseAs[Runtime]()
}

// DefaultRuntime returns the built-in defaults without touching the environment.
func DefaultRuntime() Runtime {
	return Runtime{
		SessionTTL:        10 * time.Minute,
		SweepInterval:     5 * time.Minute,
		MaxToolIterations: 10,
		HistoryLimit:      30,
		HistoryLineLimit:  150,
	}
}
