package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{FailThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(testConfig())

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig())

	b.Record(false)
	b.Record(false)
	assert.Equal(t, StateClosed, b.State())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New(testConfig())

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbesAfterTimeout(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New(testConfig())
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	require.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New(testConfig())
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow())

	b.Record(true)
	assert.Equal(t, StateHalfOpen, b.State())
	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New(testConfig())
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}
