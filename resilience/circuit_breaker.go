// Package resilience guards calls to upstream LLM providers with a
// circuit breaker and a retry helper, adapted from the teacher's
// resilience primitives down to the subset the failover chain
// (failover.Facade, one breaker per adapter) actually drives: a closed/
// open/half-open state machine keyed on consecutive failures rather
// than a sliding error-rate window, since a failover chain cares about
// "is this provider currently down", not percentile error budgets.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talchain/olumi-cee/core"
)

// CircuitState is one of the three states a CircuitBreaker can be in.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker lifecycle events. Satisfied
// by TelemetryMetrics for production use; tests pass their own fakes.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)                  {}
func (noopMetrics) RecordFailure(string, string)          {}
func (noopMetrics) RecordStateChange(string, string, string) {}
func (noopMetrics) RecordRejection(string)                {}

// ErrorClassifier decides whether an error returned by the guarded call
// should count toward the breaker's failure tally.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts every error toward the breaker except
// configuration, not-found, state and context-cancellation errors, which
// indicate a caller or operator mistake rather than provider ill health.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) || core.IsNotFound(err) || core.IsStateError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs and metrics, e.g.
	// "failover.openai".
	Name string

	// FailureThreshold is the number of consecutive countable failures
	// that trips the breaker open.
	FailureThreshold int

	// SleepWindow is how long the breaker stays open before allowing a
	// single half-open probe request through.
	SleepWindow time.Duration

	// HalfOpenSuccesses is the number of consecutive half-open
	// successes required to close the breaker again.
	HalfOpenSuccesses int

	ErrorClassifier ErrorClassifier
	Logger          core.Logger
	Metrics         MetricsCollector
}

// DefaultConfig returns a configuration sized for a failover adapter:
// five consecutive failures trips it, a 30s cooldown before the next
// probe, two clean probes to recover.
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:              "default",
		FailureThreshold:  5,
		SleepWindow:       30 * time.Second,
		HalfOpenSuccesses: 2,
		ErrorClassifier:   DefaultErrorClassifier,
		Logger:            &core.NoOpLogger{},
		Metrics:           noopMetrics{},
	}
}

// Validate reports whether the configuration is usable.
func (c *CircuitBreakerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("circuit breaker config: name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("circuit breaker config: failure threshold must be >= 1")
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("circuit breaker config: sleep window must be positive")
	}
	if c.HalfOpenSuccesses < 1 {
		return fmt.Errorf("circuit breaker config: half-open successes must be >= 1")
	}
	return nil
}

// CircuitBreaker tracks consecutive failures for a single upstream
// dependency and rejects calls while it believes that dependency is
// down.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu             sync.Mutex
	state          CircuitState
	openedAt       time.Time
	consecutiveErr int
	halfOpenOK     int
	halfOpenClaims int32 // at most one probe in flight at a time
}

// NewCircuitBreaker validates config (defaulting a nil config) and
// returns a breaker starting in the closed state.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	cb := &CircuitBreaker{config: config, state: StateClosed}
	config.Logger.Info("circuit breaker created", map[string]interface{}{
		"name":              config.Name,
		"failure_threshold": config.FailureThreshold,
		"sleep_window_ms":   config.SleepWindow.Milliseconds(),
	})
	return cb, nil
}

// SetLogger replaces the breaker's logger, tagging it with this
// package's component name when the logger supports component tags.
func (cb *CircuitBreaker) SetLogger(logger core.Logger) {
	if logger == nil {
		cb.config.Logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		cb.config.Logger = cal.WithComponent("llm/resilience")
		return
	}
	cb.config.Logger = logger
}

// GetState returns the breaker's current state as a string ("closed",
// "open", "half-open").
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked().String()
}

// stateLocked resolves StateOpen to StateHalfOpen once the sleep window
// has elapsed. Callers must hold cb.mu.
func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.SleepWindow {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		atomic.StoreInt32(&cb.halfOpenClaims, 0)
	case StateHalfOpen:
		cb.halfOpenOK = 0
		atomic.StoreInt32(&cb.halfOpenClaims, 0)
	case StateClosed:
		cb.consecutiveErr = 0
	}
	cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), to.String())
	cb.config.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name,
		"from": from.String(),
		"to":   to.String(),
	})
}

// CanExecute reports whether a call against the guarded dependency
// should be attempted right now. In the half-open state it admits
// exactly one caller at a time, so only one probe request is in flight
// against a recovering dependency.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	state := cb.stateLocked()
	cb.mu.Unlock()

	switch state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return atomic.CompareAndSwapInt32(&cb.halfOpenClaims, 0, 1)
	default: // StateOpen
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return false
	}
}

// RecordSuccess reports a successful call. In the closed state it
// resets the consecutive-failure tally; in the half-open state enough
// consecutive successes close the breaker again.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.config.Metrics.RecordSuccess(cb.config.Name)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.consecutiveErr = 0
	case StateHalfOpen:
		cb.halfOpenOK++
		atomic.StoreInt32(&cb.halfOpenClaims, 0)
		if cb.halfOpenOK >= cb.config.HalfOpenSuccesses {
			cb.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure reports a failing call against the unclassified error.
// Use RecordFailureErr when the error is available, so the configured
// ErrorClassifier can decide whether it counts.
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordFailure("unclassified")
}

// RecordFailureErr reports a failing call's error, counting it toward
// the breaker only if the configured ErrorClassifier accepts it.
func (cb *CircuitBreaker) RecordFailureErr(err error) {
	if !cb.config.ErrorClassifier(err) {
		return
	}
	cb.recordFailure(fmt.Sprintf("%T", err))
}

func (cb *CircuitBreaker) recordFailure(errorType string) {
	cb.config.Metrics.RecordFailure(cb.config.Name, errorType)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		cb.consecutiveErr++
		if cb.consecutiveErr >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		atomic.StoreInt32(&cb.halfOpenClaims, 0)
		cb.transitionLocked(StateOpen)
	}
}

// Execute runs fn under the breaker's protection: rejects immediately
// if the breaker is open, otherwise runs fn and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("circuit breaker %q is open: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if err != nil {
		cb.RecordFailureErr(err)
		return err
	}
	cb.RecordSuccess()
	return nil
}
