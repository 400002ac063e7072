package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBudget(rpm int) BudgetFunc {
	return func(feature string) int { return rpm }
}

func TestAllowAdmitsUpToBudgetThenDenies(t *testing.T) {
	l := New(fixedBudget(3))

	for i := 0; i < 3; i++ {
		allowed, retryAfter := l.Allow("graph-readiness", "key-1")
		assert.True(t, allowed, "request %d should be admitted", i)
		assert.Equal(t, 0, retryAfter)
	}

	allowed, retryAfter := l.Allow("graph-readiness", "key-1")
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 0)
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := New(fixedBudget(1))

	allowed1, _ := l.Allow("draft-graph", "key-a")
	allowed2, _ := l.Allow("draft-graph", "key-b")

	assert.True(t, allowed1)
	assert.True(t, allowed2)
}

func TestAllowTracksFeaturesIndependently(t *testing.T) {
	l := New(fixedBudget(1))

	allowed1, _ := l.Allow("draft-graph", "key-1")
	allowed2, _ := l.Allow("graph-readiness", "key-1")

	assert.True(t, allowed1)
	assert.True(t, allowed2)
}

func TestAllowUnlimitedWhenBudgetNonPositive(t *testing.T) {
	l := New(fixedBudget(0))

	for i := 0; i < 100; i++ {
		allowed, _ := l.Allow("draft-graph", "key-1")
		assert.True(t, allowed)
	}
}

func TestResetClearsKeyState(t *testing.T) {
	l := New(fixedBudget(1))

	allowed, _ := l.Allow("draft-graph", "key-1")
	require.True(t, allowed)

	denied, _ := l.Allow("draft-graph", "key-1")
	assert.False(t, denied)

	l.Reset("draft-graph", "key-1")

	allowedAgain, _ := l.Allow("draft-graph", "key-1")
	assert.True(t, allowedAgain)
}
