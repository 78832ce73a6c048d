// Package circuitbreaker protects the vendor adapters from hammering a slave
// service that is down. Only transport failures and server errors trip the
// breaker; vendor-level rejections are the caller's problem and do not count.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/tuning-platform/internal/logging"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures a circuit breaker.
type Config struct {
	Name string
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a vendor endpoint.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a consecutive-failure breaker with a half-open probe.
type CircuitBreaker struct {
	mu sync.Mutex

	config   *Config
	state    State
	failures int
	openedAt time.Time
	logger   *logging.Logger
}

// New creates a circuit breaker.
func New(config *Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		logger: logging.GetGlobalLogger().WithField("breaker", config.Name),
	}
}

// Allow reports whether a request may proceed. While open it returns ErrOpen
// until the reset timeout elapses, then lets a single probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if time.Since(cb.openedAt) < cb.config.ResetTimeout {
		return ErrOpen
	}
	cb.state = StateHalfOpen
	cb.logger.Info("Circuit breaker half-open, probing")
	return nil
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.logger.Info("Circuit breaker closed")
	}
	cb.state = StateClosed
	cb.failures = 0
}

// RecordFailure counts a failure and opens the breaker at the threshold. A
// failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		if cb.state != StateOpen {
			cb.logger.WithField("failures", cb.failures).Warn("Circuit breaker opened")
		}
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}
