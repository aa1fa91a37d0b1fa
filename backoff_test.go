package payouts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, NextRetryDelay(1))
	assert.Equal(t, 5*time.Minute, NextRetryDelay(2))
	assert.Equal(t, 15*time.Minute, NextRetryDelay(3))
	assert.Equal(t, time.Hour, NextRetryDelay(4))
	assert.Equal(t, 6*time.Hour, NextRetryDelay(5))
	assert.Equal(t, 24*time.Hour, NextRetryDelay(6))
}

func TestNextRetryDelayClampsPastSchedule(t *testing.T) {
	assert.Equal(t, 24*time.Hour, NextRetryDelay(7))
	assert.Equal(t, 24*time.Hour, NextRetryDelay(50))
}

func TestRetriesExhausted(t *testing.T) {
	assert.False(t, RetriesExhausted(6))
	assert.True(t, RetriesExhausted(7))
	assert.True(t, RetriesExhausted(8))
}
