package appid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDefaults(t *testing.T) {
	t.Setenv(EnvIdentityPrefix, "")

	identity, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ratelane", identity.BinaryName)
	require.Equal(t, "ratelane", identity.ConfigName)
	require.Equal(t, "RATELANE_", identity.EnvPrefix)
}

func TestGetEnvPrefixOverride(t *testing.T) {
	t.Setenv(EnvIdentityPrefix, "lane")

	identity, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "LANE_", identity.EnvPrefix)
}

func TestGetCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Get(ctx)
	require.Error(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	first, err := Get(context.Background())
	require.NoError(t, err)
	first.BinaryName = "changed"

	second, err := Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ratelane", second.BinaryName)
}
