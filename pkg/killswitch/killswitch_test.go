package killswitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSwitch_KillAndRevive(t *testing.T) {
	t.Parallel()
	s := New()
	assert.False(t, s.IsKilled("github"))

	s.Kill("github")
	assert.True(t, s.IsKilled("github"))

	s.Revive("github")
	assert.False(t, s.IsKilled("github"))
}

func TestErrorBudget_TripsAtThreshold(t *testing.T) {
	t.Parallel()
	s := New()
	var tripped string
	eb := NewErrorBudget(s, BudgetConfig{Window: time.Hour, Threshold: 0.5, MinSample: 4}, func(b string) { tripped = b })

	eb.Record("b1", true)
	eb.Record("b1", true)
	assert.False(t, s.IsKilled("b1"))

	eb.Record("b1", false)
	eb.Record("b1", false)
	assert.True(t, s.IsKilled("b1"))
	assert.Equal(t, "b1", tripped)
}

func TestErrorBudget_ReviveClearsBudget(t *testing.T) {
	t.Parallel()
	s := New()
	eb := NewErrorBudget(s, BudgetConfig{Window: time.Hour, Threshold: 0.5, MinSample: 2}, nil)

	eb.Record("b1", false)
	eb.Record("b1", false)
	assert.True(t, s.IsKilled("b1"))

	s.Revive("b1")
	assert.False(t, s.IsKilled("b1"))

	eb.Record("b1", true)
	assert.False(t, s.IsKilled("b1"))
}

func TestErrorBudget_BelowMinSampleNeverTrips(t *testing.T) {
	t.Parallel()
	s := New()
	eb := NewErrorBudget(s, BudgetConfig{Window: time.Hour, Threshold: 0.1, MinSample: 100}, nil)
	for i := 0; i < 10; i++ {
		eb.Record("b1", false)
	}
	assert.False(t, s.IsKilled("b1"))
}
