//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

func TestBucketHashesRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := OpenBuckets(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/buckets.db"})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	hashes := map[string]core.BucketHash{
		"GET:/gateway":              {Value: "abc", LastAccess: 1700000000000},
		"PATCH:/channels/:id":       {Value: "def", LastAccess: 1700000000500},
		"GET:/users/@me":            core.SyntheticHash("GET", "/users/@me"),
		"POST:/interactions/*/*/cb": {Value: "ghi", LastAccess: 1700000001000},
	}
	require.NoError(t, st.SaveBucketHashes(ctx, hashes))

	loaded, err := st.LoadBucketHashes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, hashes["GET:/gateway"], loaded["GET:/gateway"])
	require.NotContains(t, loaded, "GET:/users/@me")

	count, err := st.CountBuckets(ctx, BucketQuery{Prefix: "GET:"})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	removed, err := st.ResetBuckets(ctx, BucketQuery{Key: "PATCH:/channels/:id"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	entries, err := st.ListBuckets(ctx, BucketQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "GET:/gateway", entries[0].Key)
	require.Equal(t, int64(1700000000000), entries[0].LastAccessTime().UnixMilli())

	_, err = st.ResetBuckets(ctx, BucketQuery{})
	require.Error(t, err)
}

func TestSaveBucketHashesReplaces(t *testing.T) {
	ctx := context.Background()
	st, err := OpenBuckets(ctx, config.StoreConfig{Driver: "libsql", Path: t.TempDir() + "/replace.db"})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.SaveBucketHashes(ctx, map[string]core.BucketHash{"GET:/a": {Value: "1", LastAccess: 1}}))
	require.NoError(t, st.SaveBucketHashes(ctx, map[string]core.BucketHash{"GET:/b": {Value: "2", LastAccess: 2}}))

	loaded, err := st.LoadBucketHashes(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]core.BucketHash{"GET:/b": {Value: "2", LastAccess: 2}}, loaded)
}
