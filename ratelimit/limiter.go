// Package ratelimit implements the per-feature, per-key request budgets
// of C11: each feature (draft-graph, options, graph-readiness, ...) gets
// an independent RPM budget per API key.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// BudgetFunc resolves a feature name to its RPM budget, e.g.
// core.Config.FeatureRateLimitRPM lookup. A zero or negative result means
// "unlimited".
type BudgetFunc func(feature string) int

// Limiter enforces one token-bucket per (feature, key) pair, calibrated
// to approximate the RPM budget as a continuous refill rate: burst equals
// the full per-minute budget (so a key can use its whole minute's budget
// immediately after a quiet period, mirroring a fixed one-minute window),
// and the refill rate is budget/60 per second. This is the same
// token-bucket-as-window-approximation idiom used by
// telemetry/ratelimiter.go's interval-gated Allow(), generalised from a
// single global interval to per-key, per-feature budgets.
type Limiter struct {
	budget BudgetFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Limiter using budget to resolve each feature's RPM.
func New(budget BudgetFunc) *Limiter {
	return &Limiter{
		budget:   budget,
		limiters: map[string]*rate.Limiter{},
	}
}

func compositeKey(feature, apiKey string) string {
	return feature + "\x00" + apiKey
}

func (l *Limiter) limiterFor(feature, apiKey string) (*rate.Limiter, bool) {
	rpm := l.budget(feature)
	if rpm <= 0 {
		return nil, false
	}

	key := compositeKey(feature, apiKey)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		l.limiters[key] = lim
	}
	return lim, true
}

// Allow reports whether a request for feature by apiKey is admitted. When
// denied, retryAfterSeconds is the ceiling of the bucket's refill delay,
// suitable for both the `retry-after` header and
// `details.retry_after_seconds`.
func (l *Limiter) Allow(feature, apiKey string) (allowed bool, retryAfterSeconds int) {
	lim, limited := l.limiterFor(feature, apiKey)
	if !limited {
		return true, 0
	}

	reservation := lim.Reserve()
	if !reservation.OK() {
		// Burst is always >= 1 for any rpm > 0, so this should not
		// happen in practice; fail closed rather than panic.
		return false, 60
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return true, 0
	}

	reservation.Cancel()
	return false, int(math.Ceil(delay.Seconds()))
}

// Reset drops the per-key state for feature/apiKey, used by tests that
// need a clean budget between cases.
func (l *Limiter) Reset(feature, apiKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, compositeKey(feature, apiKey))
}
