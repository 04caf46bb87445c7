package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("RATELANE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RATELANE_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	st, err := OpenBuckets(ctx, config.StoreConfig{
		Driver:      "redis",
		RedisAddr:   addr,
		RedisPrefix: "ratelane-test-" + t.Name(),
	})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	require.Equal(t, "redis", st.Driver())

	require.NoError(t, st.SaveBucketHashes(ctx, map[string]core.BucketHash{
		"GET:/gateway":        {Value: "abc", LastAccess: 10},
		"PATCH:/channels/:id": {Value: "def", LastAccess: 20},
	}))

	loaded, err := st.LoadBucketHashes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// A second process saving its own view keeps the other entries.
	require.NoError(t, st.SaveBucketHashes(ctx, map[string]core.BucketHash{
		"GET:/gateway":        {Value: "stale", LastAccess: 5},
		"GET:/users/@me":      {Value: "ghi", LastAccess: 30},
		"PATCH:/channels/:id": {Value: "def2", LastAccess: 25},
	}))
	loaded, err = st.LoadBucketHashes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, "abc", loaded["GET:/gateway"].Value)
	require.Equal(t, "def2", loaded["PATCH:/channels/:id"].Value)

	_, err = st.ResetBuckets(ctx, BucketQuery{Prefix: "GET:/users"})
	require.NoError(t, err)

	removed, err := st.ResetBuckets(ctx, BucketQuery{Prefix: "PATCH:"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	removed, err = st.ResetBuckets(ctx, BucketQuery{All: true})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestMergeRedisHashesKeepsNewerEntries(t *testing.T) {
	existing := map[string]string{
		"GET:/gateway":        `{"hash":"abc","last_access":50}`,
		"PATCH:/channels/:id": `{"hash":"def","last_access":10}`,
		"GET:/broken":         `not json`,
	}

	fields, err := mergeRedisHashes(existing, map[string]core.BucketHash{
		"GET:/gateway":        {Value: "older", LastAccess: 40},
		"PATCH:/channels/:id": {Value: "newer", LastAccess: 20},
		"GET:/broken":         {Value: "fresh", LastAccess: 1},
		"GET:/users/@me":      {Value: "ghi", LastAccess: 5},
		"GET:/synthetic":      {Value: "Global(GET:/synthetic)", LastAccess: core.SyntheticLastAccess},
	})
	require.NoError(t, err)

	require.NotContains(t, fields, "GET:/gateway")
	require.NotContains(t, fields, "GET:/synthetic")
	require.Len(t, fields, 3)
	require.JSONEq(t, `{"hash":"newer","last_access":20}`, fields["PATCH:/channels/:id"].(string))
	require.JSONEq(t, `{"hash":"fresh","last_access":1}`, fields["GET:/broken"].(string))
	require.JSONEq(t, `{"hash":"ghi","last_access":5}`, fields["GET:/users/@me"].(string))
}
