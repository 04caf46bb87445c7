package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvalidRequestCounterWarnsEveryInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := NewInvalidRequestCounter(func() time.Time { return now })

	_, warn := counter.Increment(3)
	require.False(t, warn)
	_, warn = counter.Increment(3)
	require.False(t, warn)

	now = now.Add(time.Minute)
	warning, warn := counter.Increment(3)
	require.True(t, warn)
	require.Equal(t, 3, warning.Count)
	require.Equal(t, 9*time.Minute, warning.RemainingTime)
}

func TestInvalidRequestCounterWindowResets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	counter := NewInvalidRequestCounter(func() time.Time { return now })

	counter.Increment(0)
	counter.Increment(0)
	require.Equal(t, 2, counter.Count())

	now = now.Add(InvalidRequestWindow + time.Second)
	require.Equal(t, 0, counter.Count())

	_, warn := counter.Increment(1)
	require.True(t, warn)
	require.Equal(t, 1, counter.Count())
}

func TestInvalidRequestCounterDisabled(t *testing.T) {
	counter := NewInvalidRequestCounter(nil)
	for i := 0; i < 20; i++ {
		_, warn := counter.Increment(0)
		require.False(t, warn)
	}
}
