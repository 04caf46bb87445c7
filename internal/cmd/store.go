package cmd

import (
	"context"

	"github.com/namelens/ratelane/internal/core/store"
)

// openStore opens the configured bucket hash store with its schema in place.
func openStore(ctx context.Context) (store.BucketStore, error) {
	cfg, err := loadedConfig(ctx)
	if err != nil {
		return nil, err
	}
	return store.OpenBuckets(ctx, cfg.Store)
}
