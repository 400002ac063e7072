package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/telemetry"
)

// RetryConfig configures exponential backoff retry for a single
// upstream call.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// Operation labels the retry.* telemetry instruments declared in
	// instrumentation.go. Left empty, Retry runs silently (used by
	// tests and by callers that don't want per-operation cardinality).
	Operation string
}

// DefaultRetryConfig retries three times with a 100ms..5s exponential
// backoff. failover.Facade does not call Retry.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry calls fn up to config.MaxAttempts times, sleeping an
// exponentially growing (optionally jittered) delay between attempts,
// and returns fn's last error wrapped in core.ErrMaxRetriesExceeded if
// every attempt fails. ctx cancellation aborts immediately, including
// mid-sleep. When config.Operation is set, each attempt, outcome and
// backoff is reported to the retry.* instruments instrumentation.go
// declares.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	start := time.Now()
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if config.Operation != "" {
			telemetry.Counter("retry.attempts", "operation", config.Operation, "attempt_number", fmt.Sprintf("%d", attempt))
		}

		if err := fn(); err == nil {
			if config.Operation != "" {
				telemetry.Counter("retry.success", "operation", config.Operation, "final_attempt", fmt.Sprintf("%d", attempt))
				telemetry.Histogram("retry.duration_ms", float64(time.Since(start).Milliseconds()), "operation", config.Operation, "status", "success")
			}
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			if config.Operation != "" {
				telemetry.Counter("retry.failures", "operation", config.Operation, "error_type", fmt.Sprintf("%T", lastErr))
				telemetry.Histogram("retry.duration_ms", float64(time.Since(start).Milliseconds()), "operation", config.Operation, "status", "failure")
			}
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if config.JitterEnabled {
			// Jitter is 10% of the delay scaled by sin(attempt), a fixed
			// function of the attempt number with no PRNG, so concurrent
			// retriers on the same attempt still wait the same time.
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		if config.Operation != "" {
			telemetry.Histogram("retry.backoff_ms", float64(delay.Milliseconds()), "operation", config.Operation, "strategy", "exponential")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %w: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker retries fn under Retry's backoff schedule,
// but short-circuits immediately (no sleep, no further attempts) once
// cb reports its upstream as down, and feeds every outcome back into cb
// so the breaker and the retry loop share one view of the dependency's
// health.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	breakerOpen := false
	err := Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			breakerOpen = true
			cancel()
			return core.ErrCircuitBreakerOpen
		}

		err := fn()
		if err != nil {
			cb.RecordFailureErr(err)
			return err
		}

		cb.RecordSuccess()
		return nil
	})
	if breakerOpen {
		return core.ErrCircuitBreakerOpen
	}
	return err
}
