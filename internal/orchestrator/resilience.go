package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-executor circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Transport errors in a row that open the circuit (default 5)
	OpenTimeout         time.Duration // How long the circuit stays open (default 30s)
	HalfOpenRequests    uint32        // Dispatches let through while half-open (default 1)
	RejectedWait        time.Duration // First wait before a rejected dispatch tries again (default 250ms)
	RejectedMaxWait     time.Duration // Longest wait between tries (default 5s)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
		RejectedWait:        250 * time.Millisecond,
		RejectedMaxWait:     5 * time.Second,
	}
}

// CircuitBreakerRegistry manages one circuit breaker per executor. Only
// transport errors count against a breaker; a task that ran and reported
// failure is a healthy executor.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	logger   *log.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry(cfg BreakerConfig, logger *log.Logger) *CircuitBreakerRegistry {
	defaults := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if cfg.RejectedWait <= 0 {
		cfg.RejectedWait = defaults.RejectedWait
	}
	if cfg.RejectedMaxWait < cfg.RejectedWait {
		cfg.RejectedMaxWait = max(defaults.RejectedMaxWait, cfg.RejectedWait)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the named executor, creating it on
// first use.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: r.cfg.HalfOpenRequests,
		Interval:    0, // Don't clear counts while closed
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Printf("WARNING: executor circuit %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not an executor fault
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// isBreakerRejection reports whether err came from the breaker itself
// rather than from the executor.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
