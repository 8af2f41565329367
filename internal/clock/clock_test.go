package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(4*time.Hour), c.Advance(4*time.Hour))

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSystemClockMovesForward(t *testing.T) {
	before := time.Now()
	assert.False(t, System().Now().Before(before))
}
