package engine

import "github.com/namelens/ratelane/internal/core"

// Hooks receives scheduler notifications. Every field is optional and the set
// is fixed when the Manager is constructed. Hooks run on the goroutine that
// triggered them and must not block.
type Hooks struct {
	OnDebug                 func(message string)
	OnRateLimited           func(data core.RateLimitData)
	OnInvalidRequestWarning func(warning core.InvalidRequestWarning)
	OnHashSweep             func(evicted map[string]core.BucketHash)
	OnHandlerSweep          func(evicted []string)
	OnResponse              func(request core.APIRequest, response *Response)
}

func (h Hooks) debug(message string) {
	if h.OnDebug != nil {
		h.OnDebug(message)
	}
}

func (h Hooks) rateLimited(data core.RateLimitData) {
	if h.OnRateLimited != nil {
		h.OnRateLimited(data)
	}
}

func (h Hooks) invalidRequestWarning(warning core.InvalidRequestWarning) {
	if h.OnInvalidRequestWarning != nil {
		h.OnInvalidRequestWarning(warning)
	}
}

func (h Hooks) hashSweep(evicted map[string]core.BucketHash) {
	if h.OnHashSweep != nil {
		h.OnHashSweep(evicted)
	}
}

func (h Hooks) handlerSweep(evicted []string) {
	if h.OnHandlerSweep != nil {
		h.OnHandlerSweep(evicted)
	}
}

func (h Hooks) response(request core.APIRequest, response *Response) {
	if h.OnResponse != nil {
		h.OnResponse(request, response)
	}
}
