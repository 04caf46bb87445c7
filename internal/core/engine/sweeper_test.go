package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestSweeperSchedulesAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sweeper := newSweeper(zap.NewNop())
	require.True(t, sweeper.schedule("hashes", time.Hour, func() {}))
	require.False(t, sweeper.schedule("handlers", 0, func() {}))
	require.False(t, sweeper.schedule("never", SweepInfinite, func() {}))

	sweeper.Start()
	require.True(t, sweeper.Running())
	require.True(t, sweeper.Scheduled("hashes"))
	require.False(t, sweeper.Scheduled("handlers"))

	require.Eventually(t, func() bool {
		next, ok := sweeper.NextRun("hashes")
		return ok && !next.IsZero()
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	require.False(t, sweeper.Running())
}

func TestSweeperRunsJobs(t *testing.T) {
	sweeper := newSweeper(zap.NewNop())
	runs := make(chan struct{}, 1)
	sweeper.schedule("tick", time.Second, func() {
		select {
		case runs <- struct{}{}:
		default:
		}
	})
	sweeper.Start()
	defer sweeper.Stop()

	select {
	case <-runs:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep job did not run")
	}
}

func TestManagerCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	opts := DefaultOptions()
	m, err := New(opts)
	require.NoError(t, err)
	require.True(t, m.Sweeper().Running())
	m.Close()
}
