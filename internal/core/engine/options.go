package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/core"
)

// SweepInfinite disables a sweeper, same as an interval of zero.
const SweepInfinite = time.Duration(math.MaxInt64)

// MaxSweepInterval is the longest accepted sweep interval.
const MaxSweepInterval = 4 * time.Hour

// DefaultBurstRoute matches interaction callbacks, which are safe to send unordered.
const DefaultBurstRoute = "/interactions/*/*/callback"

// RejectPolicy decides whether a rate limited request fails instead of waiting.
type RejectPolicy func(ctx context.Context, data core.RateLimitData) bool

// RejectPrefixes rejects rate limited requests whose bucket route starts with
// one of the given prefixes. Prefixes are compared lowercased.
func RejectPrefixes(prefixes ...string) RejectPolicy {
	normalized := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			continue
		}
		normalized = append(normalized, prefix)
	}
	if len(normalized) == 0 {
		return nil
	}
	return func(_ context.Context, data core.RateLimitData) bool {
		for _, prefix := range normalized {
			if strings.HasPrefix(data.Route, prefix) {
				return true
			}
		}
		return false
	}
}

// Options configures a Manager.
type Options struct {
	API               string
	Version           string
	AuthPrefix        string
	UserAgentAppendix string
	Headers           map[string]string

	GlobalRequestsPerSecond       int
	Offset                        time.Duration
	OffsetFunc                    func(route string) time.Duration
	Retries                       int
	Timeout                       time.Duration
	HashSweepInterval             time.Duration
	HandlerSweepInterval          time.Duration
	HashLifetime                  time.Duration
	InvalidRequestWarningInterval int
	RejectOnRateLimit             RejectPolicy
	BurstRoutes                   []string

	HTTPClient      *http.Client
	Clock           func() time.Time
	Logger          *zap.Logger
	Hooks           Hooks
	InvalidRequests *InvalidRequestCounter
}

// DefaultOptions returns the stock scheduler configuration.
func DefaultOptions() Options {
	return Options{
		API:                     "https://discord.com/api",
		Version:                 "10",
		AuthPrefix:              "Bot",
		GlobalRequestsPerSecond: 50,
		Offset:                  50 * time.Millisecond,
		Retries:                 3,
		Timeout:                 15 * time.Second,
		HashSweepInterval:       4 * time.Hour,
		HandlerSweepInterval:    time.Hour,
		HashLifetime:            24 * time.Hour,
		BurstRoutes:             []string{DefaultBurstRoute},
	}
}

func (o Options) validate() error {
	if o.HashSweepInterval > MaxSweepInterval && o.HashSweepInterval != SweepInfinite {
		return fmt.Errorf("hash sweep interval %s exceeds maximum of %s", o.HashSweepInterval, MaxSweepInterval)
	}
	if o.HandlerSweepInterval > MaxSweepInterval && o.HandlerSweepInterval != SweepInfinite {
		return fmt.Errorf("handler sweep interval %s exceeds maximum of %s", o.HandlerSweepInterval, MaxSweepInterval)
	}
	if o.HashSweepInterval < 0 || o.HandlerSweepInterval < 0 {
		return fmt.Errorf("sweep intervals must not be negative")
	}
	if o.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if o.GlobalRequestsPerSecond <= 0 {
		return fmt.Errorf("global requests per second must be positive")
	}
	if strings.TrimSpace(o.API) == "" {
		return fmt.Errorf("api base url is required")
	}
	return nil
}

// offsetFor returns the wait padding for a bucket route. OffsetFunc, when
// set, takes precedence over the fixed Offset.
func (o Options) offsetFor(route string) time.Duration {
	offset := o.Offset
	if o.OffsetFunc != nil {
		offset = o.OffsetFunc(route)
	}
	if offset < 0 {
		return 0
	}
	return offset
}

func (o Options) withDefaults() Options {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.AuthPrefix == "" {
		o.AuthPrefix = "Bot"
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.InvalidRequests == nil {
		o.InvalidRequests = NewInvalidRequestCounter(o.Clock)
	}
	o.API = strings.TrimRight(o.API, "/")
	return o
}
