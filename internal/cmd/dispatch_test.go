package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
)

func testConfig(api string) *config.Config {
	return &config.Config{
		REST: config.RESTConfig{
			API:                     api,
			Version:                 "10",
			Token:                   "secret",
			GlobalRequestsPerSecond: 50,
			Retries:                 1,
			Timeout:                 2 * time.Second,
			HashLifetime:            time.Hour,
		},
	}
}

func newTestScheduler(t *testing.T, handler http.HandlerFunc) *engine.Manager {
	t.Helper()
	upstream := httptest.NewServer(handler)
	t.Cleanup(upstream.Close)

	manager, err := newScheduler(testConfig(upstream.URL+"/api"), schedulerSettings{})
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	return manager
}

func TestDispatchSuccess(t *testing.T) {
	var gotAuth, gotQuery, gotBody, gotReason string
	manager := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		gotReason = r.Header.Get("X-Audit-Log-Reason")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Bucket", "msg-bucket")
		w.Header().Set("X-RateLimit-Limit", "5")
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", "1")
		_, _ = io.WriteString(w, `{"id":"1"}`)
	})

	result := dispatch(context.Background(), manager, core.RequestSpec{
		ID:     "send",
		Method: "post",
		Path:   "/channels/123456789012345678/messages",
		Body:   map[string]any{"content": "hi"},
		Query:  map[string]string{"wait": "true"},
		Reason: "cleanup",
	})

	require.True(t, result.Succeeded(), result.Error)
	require.Equal(t, "POST", result.Method)
	require.Equal(t, 200, result.Status)
	require.Equal(t, "msg-bucket", result.Bucket)
	require.Equal(t, "5", result.Limit)
	require.Equal(t, "4", result.Remaining)
	require.JSONEq(t, `{"id":"1"}`, string(result.Body))

	require.Equal(t, "Bot secret", gotAuth)
	require.Equal(t, "wait=true", gotQuery)
	require.Equal(t, "cleanup", gotReason)
	require.JSONEq(t, `{"content":"hi"}`, gotBody)
}

func TestDispatchAPIError(t *testing.T) {
	manager := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":10003,"message":"Unknown Channel"}`)
	})

	result := dispatch(context.Background(), manager, core.RequestSpec{Method: "GET", Path: "/channels/123456789012345678"})

	require.False(t, result.Succeeded())
	require.Equal(t, http.StatusNotFound, result.Status)
	require.Equal(t, "NOT_FOUND", result.ErrorCode)
	require.Contains(t, result.Error, "Unknown Channel")
}

func TestDispatchPlainTextBody(t *testing.T) {
	manager := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "pong\n")
	})

	result := dispatch(context.Background(), manager, core.RequestSpec{Path: "/ping", NoAuth: true})

	require.True(t, result.Succeeded())
	require.Equal(t, "GET", result.Method)
	require.Equal(t, "pong", result.Text)
	require.Empty(t, result.Body)
}

func TestDispatchClosedScheduler(t *testing.T) {
	manager := newTestScheduler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	manager.Close()

	result := dispatch(context.Background(), manager, core.RequestSpec{Path: "/gateway"})

	require.False(t, result.Succeeded())
	require.Equal(t, "SERVICE_UNAVAILABLE", result.ErrorCode)
	require.Zero(t, result.Status)
}

func TestDispatchResultJSON(t *testing.T) {
	result := &core.RequestResult{Method: "GET", Path: "/gateway", Status: 200, Body: json.RawMessage(`{"url":"x"}`)}
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.Contains(t, string(data), `"body":{"url":"x"}`)
}
