// Package appid holds the application identity shared by the CLI, config
// loader and server.
package appid

import (
	"context"
	"os"
	"strings"
)

// EnvIdentityPrefix overrides the environment variable prefix when set.
const EnvIdentityPrefix = "RATELANE_ENV_PREFIX"

// Identity names the binary and the paths and prefixes derived from it.
type Identity struct {
	BinaryName         string
	ConfigName         string
	EnvPrefix          string
	Vendor             string
	Description        string
	TelemetryNamespace string
}

var defaultIdentity = Identity{
	BinaryName:         "ratelane",
	ConfigName:         "ratelane",
	EnvPrefix:          "RATELANE_",
	Vendor:             "namelens",
	Description:        "Rate-limit aware REST request scheduler",
	TelemetryNamespace: "ratelane",
}

// Get returns the application identity. The env prefix may be overridden
// through RATELANE_ENV_PREFIX for side-by-side deployments.
func Get(ctx context.Context) (*Identity, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	identity := defaultIdentity
	if prefix := strings.TrimSpace(os.Getenv(EnvIdentityPrefix)); prefix != "" {
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}
		identity.EnvPrefix = strings.ToUpper(prefix)
	}
	return &identity, nil
}
