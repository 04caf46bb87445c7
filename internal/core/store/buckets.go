package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
)

// BucketStore persists learned bucket hashes and supports inspection from the CLI.
type BucketStore interface {
	engine.HashStore
	ListBuckets(ctx context.Context, q BucketQuery) ([]BucketEntry, error)
	CountBuckets(ctx context.Context, q BucketQuery) (int, error)
	ResetBuckets(ctx context.Context, q BucketQuery) (int64, error)
	Driver() string
	Close() error
}

var _ BucketStore = (*Store)(nil)

// BucketEntry is one stored "METHOD:bucketRoute" to hash mapping.
type BucketEntry struct {
	Key  string          `json:"key"`
	Hash core.BucketHash `json:"hash"`
}

// LastAccessTime returns the hash's last access as a time.
func (e BucketEntry) LastAccessTime() time.Time {
	if e.Hash.Synthetic() {
		return time.Time{}
	}
	return time.UnixMilli(e.Hash.LastAccess).UTC()
}

// LoadBucketHashes returns every stored bucket hash.
func (s *Store) LoadBucketHashes(ctx context.Context) (map[string]core.BucketHash, error) {
	entries, err := s.ListBuckets(ctx, BucketQuery{All: true})
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]core.BucketHash, len(entries))
	for _, entry := range entries {
		hashes[entry.Key] = entry.Hash
	}
	return hashes, nil
}

// SaveBucketHashes replaces the stored bucket hashes with hashes.
func (s *Store) SaveBucketHashes(ctx context.Context, hashes map[string]core.BucketHash) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bucket save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bucket_hashes`); err != nil {
		return fmt.Errorf("clear bucket hashes: %w", err)
	}

	now := time.Now().UTC().Unix()
	for key, hash := range hashes {
		key = strings.TrimSpace(key)
		if key == "" || hash.Value == "" || hash.Synthetic() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bucket_hashes (key, hash, last_access, updated_at)
			VALUES (?, ?, ?, ?)
		`, key, hash.Value, hash.LastAccess, now); err != nil {
			return fmt.Errorf("store bucket hash: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bucket save: %w", err)
	}
	return nil
}
