package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match Task.Queue).
	Name string

	// MaxConcurrency limits how many tasks from this queue may execute
	// simultaneously in the local worker pool. Zero means no
	// queue-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained tasks per second dequeued from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set and RateBurst is zero.
	RateBurst int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-queue rate limits and concurrency caps. Safe for
// concurrent use. Queues without a Config have no limits.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		qs := &queueState{config: cfg}
		if cfg.RateLimit > 0 {
			burst := cfg.RateBurst
			if burst <= 0 {
				burst = 1
			}
			qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		m.queues[cfg.Name] = qs
	}
	return m
}

// Acquire checks limits for the queue. When allowed it increments the
// active count and returns true; the caller MUST call Release afterward.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}
