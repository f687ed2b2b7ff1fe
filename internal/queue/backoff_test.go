package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, 1*time.Minute, b.Delay(1))
	assert.Equal(t, 5*time.Minute, b.Delay(2))
	assert.Equal(t, 15*time.Minute, b.Delay(3))
	assert.Equal(t, 30*time.Minute, b.Delay(4))
	assert.Equal(t, time.Hour, b.Delay(5))

	// Past the schedule the last entry keeps applying.
	assert.Equal(t, time.Hour, b.Delay(9))
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()

	assert.False(t, b.Exhausted(4))
	assert.True(t, b.Exhausted(5))
	assert.True(t, b.Exhausted(6))
}

func TestBackoffEmptySchedule(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	assert.Equal(t, time.Minute, b.Delay(1))
}
