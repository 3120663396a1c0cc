package clients

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/metrics"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"` // half-open successes before closing
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`                     // open period before a trial request
	HalfOpenLimit    int           `mapstructure:"half_open_limit" yaml:"half_open_limit"`     // trial requests allowed while half-open
}

// DefaultCircuitBreakerConfig returns the breaker settings used per node.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenLimit:    1,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of trial requests
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker stops requests to a node after repeated connection
// failures, so an unreachable node fails fast instead of holding up every
// fetch until its deadline.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	state                int32
	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenCounter      int32

	mu              sync.RWMutex
	lastStateChange time.Time
	nextRetryTime   time.Time
}

// NewCircuitBreaker creates a closed breaker for the named host.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.HalfOpenLimit <= 0 {
		config.HalfOpenLimit = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker"), zap.String("host", name)),
		now:             time.Now,
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Execute runs fn if the breaker allows it and records the outcome. Only
// retryable (connection and timeout) errors count as failures.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return errors.Newf(errors.ErrorTypeConnection, "circuit breaker open for %s", cb.name)
	}

	err := fn()
	if err != nil && errors.IsRetryable(err) {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return err
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := !cb.now().Before(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transitionToHalfOpen()
			return cb.allowHalfOpen()
		}
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.consecutiveSuccesses, 1)
		atomic.AddInt32(&cb.halfOpenCounter, -1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request. Any failure while half-open
// reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt32(&cb.state))
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	if atomic.AddInt32(&cb.halfOpenCounter, 1) > int32(cb.config.HalfOpenLimit) {
		atomic.AddInt32(&cb.halfOpenCounter, -1)
		return false
	}
	return true
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) &&
		!atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen)) {
		return
	}

	cb.lastStateChange = cb.now()
	cb.nextRetryTime = cb.lastStateChange.Add(cb.config.Timeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateOpen))

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = cb.now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)
		metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateHalfOpen))

		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = cb.now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)
		metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateClosed))

		cb.logger.Info("circuit breaker closed")
	}
}

// BreakerStats is a snapshot of a breaker.
type BreakerStats struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerStats{
		State:                cb.State().String(),
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		NextRetryTime:        cb.nextRetryTime,
	}
}
