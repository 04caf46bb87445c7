package config

import (
	"strings"

	"github.com/namelens/ratelane/internal/core/engine"
)

// ToEngineOptions converts the rest section into scheduler options. Fields the
// engine owns at runtime (HTTP client, logger, hooks) are left for the caller.
func ToEngineOptions(rest RESTConfig) engine.Options {
	opts := engine.DefaultOptions()

	if api := strings.TrimSpace(rest.API); api != "" {
		opts.API = api
	}
	if version := strings.TrimSpace(rest.Version); version != "" {
		opts.Version = strings.TrimPrefix(version, "v")
	}
	if prefix := strings.TrimSpace(rest.AuthPrefix); prefix != "" {
		opts.AuthPrefix = prefix
	}
	if rest.GlobalRequestsPerSecond > 0 {
		opts.GlobalRequestsPerSecond = rest.GlobalRequestsPerSecond
	}
	if rest.Timeout > 0 {
		opts.Timeout = rest.Timeout
	}
	if len(rest.BurstRoutes) > 0 {
		opts.BurstRoutes = append([]string(nil), rest.BurstRoutes...)
	}

	opts.UserAgentAppendix = strings.TrimSpace(rest.UserAgentAppendix)
	opts.Offset = rest.Offset
	opts.Retries = rest.Retries
	opts.HashSweepInterval = rest.HashSweepInterval
	opts.HandlerSweepInterval = rest.HandlerSweepInterval
	opts.HashLifetime = rest.HashLifetime
	opts.InvalidRequestWarningInterval = rest.InvalidRequestWarningInterval
	opts.RejectOnRateLimit = engine.RejectPrefixes(rest.RejectOnRateLimit...)

	if len(rest.Headers) > 0 {
		opts.Headers = make(map[string]string, len(rest.Headers))
		for key, value := range rest.Headers {
			opts.Headers[key] = value
		}
	}
	return opts
}
