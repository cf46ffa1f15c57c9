package focustimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFiresOnceAtDuration(t *testing.T) {
	var timer Timer
	start := time.Now()
	timer.Start(10*time.Second, start)

	assert.Nil(t, timer.Tick(start.Add(5*time.Second)))

	evt := timer.Tick(start.Add(10 * time.Second))
	assert.NotNil(t, evt)

	assert.Nil(t, timer.Tick(start.Add(11*time.Second)))
	assert.False(t, timer.Running())
}

func TestStopCancelsWithoutFiring(t *testing.T) {
	var timer Timer
	start := time.Now()
	timer.Start(5*time.Second, start)
	timer.Stop()

	assert.Nil(t, timer.Tick(start.Add(10*time.Second)))
	assert.False(t, timer.Running())
}

func TestRemainingCountsDown(t *testing.T) {
	var timer Timer
	start := time.Now()
	timer.Start(10*time.Second, start)
	assert.Equal(t, 4*time.Second, timer.Remaining(start.Add(6*time.Second)))
	assert.Equal(t, time.Duration(0), timer.Remaining(start.Add(20*time.Second)))
}
