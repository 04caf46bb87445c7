package core

import "time"

// SyntheticLastAccess marks a bucket hash that was derived locally rather than
// learned from the server. Synthetic hashes are never swept.
const SyntheticLastAccess int64 = -1

// GlobalMajorParameter is used when a route has no major resource ID.
const GlobalMajorParameter = "global"

// RouteID is the generalized form of a request path.
type RouteID struct {
	BucketRoute    string `json:"bucket_route"`
	MajorParameter string `json:"major_parameter"`
	Original       string `json:"original"`
}

// BucketHash is the server-assigned bucket identifier for a method and route.
type BucketHash struct {
	Value      string `json:"value"`
	LastAccess int64  `json:"last_access"`
}

// Synthetic reports whether the hash was derived locally.
func (h BucketHash) Synthetic() bool {
	return h.LastAccess == SyntheticLastAccess
}

// Expired reports whether a learned hash has outlived lifetime at now.
func (h BucketHash) Expired(now time.Time, lifetime time.Duration) bool {
	if h.Synthetic() {
		return false
	}
	return now.UnixMilli()-h.LastAccess > lifetime.Milliseconds()
}

// SyntheticHash builds the placeholder hash used before the server names a bucket.
func SyntheticHash(method, bucketRoute string) BucketHash {
	return BucketHash{
		Value:      "Global(" + method + ":" + bucketRoute + ")",
		LastAccess: SyntheticLastAccess,
	}
}

// HashKey is the registry key for a method and bucket route.
func HashKey(method, bucketRoute string) string {
	return method + ":" + bucketRoute
}

// RateLimitScope identifies who a rate limit applies to.
type RateLimitScope string

const (
	ScopeUser   RateLimitScope = "user"
	ScopeGlobal RateLimitScope = "global"
	ScopeShared RateLimitScope = "shared"
)

// RateLimitData describes a rate limit that a request ran into.
type RateLimitData struct {
	Global          bool           `json:"global"`
	Method          string         `json:"method"`
	URL             string         `json:"url"`
	Route           string         `json:"route"`
	MajorParameter  string         `json:"major_parameter"`
	Hash            string         `json:"hash"`
	Limit           float64        `json:"limit"`
	TimeToReset     time.Duration  `json:"time_to_reset"`
	RetryAfter      time.Duration  `json:"retry_after"`
	SublimitTimeout time.Duration  `json:"sublimit_timeout"`
	Scope           RateLimitScope `json:"scope"`
}

// InvalidRequestWarning reports the invalid request count in the current window.
type InvalidRequestWarning struct {
	Count         int           `json:"count"`
	RemainingTime time.Duration `json:"remaining_time"`
}

// APIRequest summarizes a dispatched request for response notifications.
type APIRequest struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Route   string `json:"route"`
	URL     string `json:"url"`
	Retries int    `json:"retries"`
	Body    any    `json:"-"`
}
