package core

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds engine configuration.
type Config struct {
	// Queue is the task queue name runs are dispatched to.
	Queue string `env:"DATANIKA_QUEUE" envDefault:"default"`

	// Concurrency is the number of concurrent worker goroutines.
	Concurrency int `env:"DATANIKA_CONCURRENCY" envDefault:"10"`

	// PollInterval is how often idle workers poll the queue.
	PollInterval time.Duration `env:"DATANIKA_POLL_INTERVAL" envDefault:"1s"`

	// TickInterval is how often the scheduler checks for due triggers.
	TickInterval time.Duration `env:"DATANIKA_TICK_INTERVAL" envDefault:"1s"`

	// MisfireGrace bounds how far past its fire time a trigger may still
	// issue its single coalesced catch-up fire.
	MisfireGrace time.Duration `env:"DATANIKA_MISFIRE_GRACE" envDefault:"5m"`

	// DispatchAttempts bounds retries when the queue is unavailable.
	// Exhaustion fails the run instead of leaving it pending.
	DispatchAttempts int `env:"DATANIKA_DISPATCH_ATTEMPTS" envDefault:"5"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"DATANIKA_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Queue:            "default",
		Concurrency:      10,
		PollInterval:     1 * time.Second,
		TickInterval:     1 * time.Second,
		MisfireGrace:     5 * time.Minute,
		DispatchAttempts: 5,
		ShutdownTimeout:  30 * time.Second,
	}
}

// ParseConfig reads Config from the environment, falling back to the
// defaults above for unset variables.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("core: parse config: %w", err)
	}
	return cfg, nil
}
