package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
)

func TestHooksChainToNext(t *testing.T) {
	var (
		limited  []core.RateLimitData
		swept    int
		handlers []string
		statuses []int
		debug    []string
	)

	hooks := Hooks(engine.Hooks{
		OnDebug:       func(message string) { debug = append(debug, message) },
		OnRateLimited: func(data core.RateLimitData) { limited = append(limited, data) },
		OnHashSweep:   func(evicted map[string]core.BucketHash) { swept += len(evicted) },
		OnHandlerSweep: func(evicted []string) {
			handlers = append(handlers, evicted...)
		},
		OnResponse: func(_ core.APIRequest, response *engine.Response) {
			if response == nil {
				statuses = append(statuses, 0)
				return
			}
			statuses = append(statuses, response.StatusCode)
		},
	})

	hooks.OnDebug("hello")
	hooks.OnRateLimited(core.RateLimitData{Route: "/channels/:id", Global: true})
	hooks.OnInvalidRequestWarning(core.InvalidRequestWarning{Count: 500})
	hooks.OnHashSweep(map[string]core.BucketHash{"GET:/a": {Value: "1"}, "GET:/b": {Value: "2"}})
	hooks.OnHandlerSweep([]string{"abc:global"})
	hooks.OnResponse(core.APIRequest{Method: "GET", Route: "/gateway"}, &engine.Response{StatusCode: 200})
	hooks.OnResponse(core.APIRequest{Method: "GET", Route: "/gateway"}, nil)

	require.Equal(t, []string{"hello"}, debug)
	require.Len(t, limited, 1)
	require.Equal(t, 2, swept)
	require.Equal(t, []string{"abc:global"}, handlers)
	require.Equal(t, []int{200, 0}, statuses)
}

func TestHooksWithoutNext(t *testing.T) {
	hooks := Hooks(engine.Hooks{})
	require.Nil(t, hooks.OnDebug)
	require.NotPanics(t, func() {
		hooks.OnRateLimited(core.RateLimitData{})
		hooks.OnHashSweep(nil)
		hooks.OnResponse(core.APIRequest{}, &engine.Response{StatusCode: 204})
	})
	require.NotPanics(t, func() { ObserveManager(nil) })
}
