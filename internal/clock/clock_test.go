package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogical_StrictlyIncreasing(t *testing.T) {
	c := NewLogicalFrom(func() int64 { return 100 })

	a := c.Now()
	b := c.Now()
	d := c.Now()

	assert.Equal(t, int64(100), a)
	assert.Equal(t, int64(101), b)
	assert.Equal(t, int64(102), d)
}

func TestLogical_WallClockStepsBack(t *testing.T) {
	wall := int64(500)
	c := NewLogicalFrom(func() int64 { return wall })

	first := c.Now()
	wall = 10
	second := c.Now()

	assert.Greater(t, second, first)
}

func TestLogical_Observe(t *testing.T) {
	c := NewLogicalFrom(func() int64 { return 1 })

	c.Observe(9000)
	assert.Equal(t, int64(9001), c.Now())

	c.Observe(5)
	assert.Equal(t, int64(9002), c.Now())
}
