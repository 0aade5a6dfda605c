package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)
	c := NewManual(start)
	assert.Equal(t, start, c.Now())

	c.Advance(40 * time.Minute)
	assert.Equal(t, start.Add(40*time.Minute), c.Now())

	later := time.Date(2025, 1, 2, 0, 5, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}
