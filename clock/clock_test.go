package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/trafficgym-go/clock"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

func TestClockAdvance(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 10, Total: 3, Interval: 0.5})
	assert.Equal(t, int32(10), c.Step)
	assert.Equal(t, 5.0, c.T)
	assert.False(t, c.Done())

	c.Tick()
	c.Tick()
	c.Tick()
	assert.Equal(t, int32(13), c.Step)
	assert.Equal(t, 6.5, c.T)
	assert.True(t, c.Done())

	c.Init()
	assert.Equal(t, int32(10), c.Step)
	assert.False(t, c.Done())
}

func TestClockString(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 0, Total: 10, Interval: 1})
	assert.Equal(t, "00:00:00", c.String())
	for i := 0; i < 3725; i++ {
		c.Tick()
	}
	assert.Equal(t, "01:02:05", c.String())
}
