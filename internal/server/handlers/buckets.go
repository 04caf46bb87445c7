package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/namelens/ratelane/internal/core/engine"
)

// BucketStateResponse is the live scheduler state served at /buckets.
type BucketStateResponse struct {
	Global   GlobalState    `json:"global"`
	Buckets  []BucketView   `json:"buckets"`
	Handlers []HandlerState `json:"handlers"`
}

// GlobalState summarizes the global limiter.
type GlobalState struct {
	PerSecond     int   `json:"per_second"`
	Limited       bool  `json:"limited"`
	ResetInMillis int64 `json:"reset_in_ms"`
	DelaysStarted int64 `json:"delays_started"`
}

// BucketView is one learned "METHOD:route" to hash mapping.
type BucketView struct {
	Key        string `json:"key"`
	Hash       string `json:"hash"`
	LastAccess string `json:"last_access,omitempty"`
}

// HandlerState describes one live handler. Limit and Remaining are omitted
// while the bucket has not reported a limit.
type HandlerState struct {
	ID        string   `json:"id"`
	Inactive  bool     `json:"inactive"`
	Limit     *float64 `json:"limit,omitempty"`
	Remaining *float64 `json:"remaining,omitempty"`
	ResetAt   string   `json:"reset_at,omitempty"`
}

// BucketState serves the scheduler's registries as JSON.
type BucketState struct {
	manager *engine.Manager
}

// NewBucketState returns a handler over manager.
func NewBucketState(manager *engine.Manager) *BucketState {
	return &BucketState{manager: manager}
}

// ServeHTTP implements http.Handler.
func (b *BucketState) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b == nil || b.manager == nil {
		respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "scheduler not initialized"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Snapshot(b.manager))
}

// Snapshot collects the current scheduler state.
func Snapshot(manager *engine.Manager) BucketStateResponse {
	global := manager.Global()
	resetIn := global.TimeToReset(0)
	if resetIn < 0 {
		resetIn = 0
	}
	response := BucketStateResponse{
		Global: GlobalState{
			PerSecond:     global.PerSecond(),
			Limited:       global.Limited(),
			ResetInMillis: resetIn.Milliseconds(),
			DelaysStarted: global.DelaysStarted(),
		},
		Buckets:  []BucketView{},
		Handlers: []HandlerState{},
	}

	for key, hash := range manager.Buckets().Snapshot() {
		view := BucketView{Key: key, Hash: hash.Value}
		if !hash.Synthetic() {
			view.LastAccess = time.UnixMilli(hash.LastAccess).UTC().Format(time.RFC3339)
		}
		response.Buckets = append(response.Buckets, view)
	}
	sort.Slice(response.Buckets, func(i, j int) bool { return response.Buckets[i].Key < response.Buckets[j].Key })

	for _, id := range manager.Handlers().IDs() {
		handler, ok := manager.Handlers().Get(id)
		if !ok {
			continue
		}
		state := HandlerState{ID: id, Inactive: handler.Inactive()}
		if sequential, ok := handler.(*engine.SequentialHandler); ok {
			state.Limit = finite(sequential.Limit())
			state.Remaining = finite(sequential.Remaining())
			if reset := sequential.ResetAt(); !reset.IsZero() {
				state.ResetAt = reset.UTC().Format(time.RFC3339Nano)
			}
		}
		response.Handlers = append(response.Handlers, state)
	}
	sort.Slice(response.Handlers, func(i, j int) bool { return response.Handlers[i].ID < response.Handlers[j].ID })

	return response
}

func finite(value float64) *float64 {
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return nil
	}
	return &value
}
