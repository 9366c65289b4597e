package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_FixedBase(t *testing.T) {
	clk := NewManualClock()
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), clk.Now())
	// Time does not move on its own.
	assert.Equal(t, clk.Now(), clk.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clk := NewManualClock()
	got := clk.Advance(90 * time.Second)
	assert.Equal(t, clk.Now(), got)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 1, 30, 0, time.UTC), clk.Now())
}

func TestManualClock_Set(t *testing.T) {
	clk := NewManualClock()
	at := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	clk.Set(at)
	assert.Equal(t, at, clk.Now())
}

func TestSequentialIDs_Sequence(t *testing.T) {
	ids := NewSequentialIDs("evt")
	assert.Equal(t, "evt-1", ids.Generate())
	assert.Equal(t, "evt-2", ids.Generate())
	assert.Equal(t, "evt-3", ids.Generate())
}
