package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/core"
)

type stubHandler struct {
	id       string
	inactive bool
}

func (s *stubHandler) ID() string     { return s.id }
func (s *stubHandler) Inactive() bool { return s.inactive }
func (s *stubHandler) QueueRequest(context.Context, core.RouteID, *Request) (*Response, error) {
	return &Response{StatusCode: 200}, nil
}

func TestBucketRegistrySweepKeepsSyntheticHashes(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewBucketRegistry()
	registry.Set("GET:/stale", core.BucketHash{Value: "stale", LastAccess: now.Add(-48 * time.Hour).UnixMilli()})
	registry.Set("GET:/fresh", core.BucketHash{Value: "fresh", LastAccess: now.Add(-time.Hour).UnixMilli()})
	registry.Set("GET:/synthetic", core.SyntheticHash("GET", "/synthetic"))

	evicted := registry.Sweep(now, 24*time.Hour)
	require.Len(t, evicted, 1)
	require.Equal(t, "stale", evicted["GET:/stale"].Value)

	_, ok := registry.Get("GET:/synthetic")
	require.True(t, ok)
	_, ok = registry.Get("GET:/fresh")
	require.True(t, ok)
	require.Equal(t, 2, registry.Len())
}

func TestBucketRegistryTouchAndMerge(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewBucketRegistry()
	registry.Set("GET:/a", core.BucketHash{Value: "a", LastAccess: 1})

	registry.Touch("GET:/a", now)
	hash, _ := registry.Get("GET:/a")
	require.Equal(t, now.UnixMilli(), hash.LastAccess)

	added := registry.Merge(map[string]core.BucketHash{
		"GET:/a": {Value: "other", LastAccess: 5},
		"GET:/b": {Value: "b", LastAccess: 5},
		"":       {Value: "skip", LastAccess: 5},
	})
	require.Equal(t, 1, added)
	hash, _ = registry.Get("GET:/a")
	require.Equal(t, "a", hash.Value)

	require.True(t, registry.Delete("GET:/b"))
	require.False(t, registry.Delete("GET:/b"))
}

func TestHandlerRegistrySweepSkipsHandlersInUse(t *testing.T) {
	registry := NewHandlerRegistry()

	idle, releaseIdle := registry.Acquire("idle:global", func() Handler { return &stubHandler{id: "idle:global", inactive: true} })
	releaseIdle()
	_, releaseBusy := registry.Acquire("busy:global", func() Handler { return &stubHandler{id: "busy:global", inactive: false} })
	releaseBusy()
	_, releaseHeld := registry.Acquire("held:global", func() Handler { return &stubHandler{id: "held:global", inactive: true} })

	again, releaseAgain := registry.Acquire("idle:global", func() Handler { t.Fatal("handler recreated"); return nil })
	releaseAgain()
	require.Same(t, idle, again)

	require.Equal(t, []string{"idle:global"}, registry.Sweep())
	require.Equal(t, []string{"busy:global", "held:global"}, registry.IDs())

	releaseHeld()
	releaseHeld()
	require.Equal(t, []string{"held:global"}, registry.Sweep())
	require.Equal(t, 1, registry.Len())
}
