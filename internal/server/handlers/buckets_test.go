package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/core/engine"
)

func TestBucketStateWithoutManager(t *testing.T) {
	rec := httptest.NewRecorder()
	NewBucketState(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buckets", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBucketStateReportsLearnedBuckets(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "10")
		w.Header().Set("X-RateLimit-Remaining", "9")
		w.Header().Set("X-RateLimit-Reset-After", "2.5")
		w.Header().Set("X-RateLimit-Bucket", "abc123")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	opts := engine.DefaultOptions()
	opts.API = upstream.URL + "/api"
	opts.Offset = 0
	opts.HashSweepInterval = 0
	opts.HandlerSweepInterval = 0
	opts.HTTPClient = upstream.Client()
	manager, err := engine.New(opts)
	require.NoError(t, err)
	defer manager.Close()
	manager.SetToken("secret")

	_, err = manager.Get(context.Background(), "/channels/123456789012345678/messages", engine.RequestOptions{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	NewBucketState(manager).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/buckets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var state BucketStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))

	require.False(t, state.Global.Limited)
	require.Equal(t, opts.GlobalRequestsPerSecond, state.Global.PerSecond)

	require.Len(t, state.Buckets, 1)
	require.Equal(t, "GET:/channels/:id/messages", state.Buckets[0].Key)
	require.Equal(t, "abc123", state.Buckets[0].Hash)
	require.NotEmpty(t, state.Buckets[0].LastAccess)

	require.Len(t, state.Handlers, 1)
	handler := state.Handlers[0]
	require.Equal(t, "Global(GET:/channels/:id/messages):123456789012345678", handler.ID)
	require.NotNil(t, handler.Limit)
	require.Equal(t, 10.0, *handler.Limit)
	require.Equal(t, 9.0, *handler.Remaining)
	require.NotEmpty(t, handler.ResetAt)
}

func TestFinite(t *testing.T) {
	require.Nil(t, finite(posInf()))
	value := finite(3)
	require.NotNil(t, value)
	require.Equal(t, 3.0, *value)
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
