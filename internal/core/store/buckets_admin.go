package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/namelens/ratelane/internal/core"
)

type BucketQuery struct {
	All    bool
	Key    string
	Prefix string
}

func (q BucketQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Key) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --key, or --prefix")
}

// Matches applies the query to a key outside of SQL.
func (q BucketQuery) Matches(key string) bool {
	if q.All {
		return true
	}
	if exact := strings.TrimSpace(q.Key); exact != "" {
		return key == exact
	}
	prefix := strings.TrimSpace(q.Prefix)
	return prefix != "" && strings.HasPrefix(key, prefix)
}

func (q BucketQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE key = ?", []any{key}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE key LIKE ?", []any{prefix + "%"}, nil
}

func (s *Store) ListBuckets(ctx context.Context, q BucketQuery) ([]BucketEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, hash, last_access
		FROM bucket_hashes
		%s
		ORDER BY key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list bucket hashes: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []BucketEntry{}
	for rows.Next() {
		var (
			key        string
			hash       string
			lastAccess int64
		)
		if err := rows.Scan(&key, &hash, &lastAccess); err != nil {
			return nil, fmt.Errorf("scan bucket hashes: %w", err)
		}
		entries = append(entries, BucketEntry{
			Key:  key,
			Hash: core.BucketHash{Value: hash, LastAccess: lastAccess},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bucket hashes: %w", err)
	}

	return entries, nil
}

func (s *Store) CountBuckets(ctx context.Context, q BucketQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM bucket_hashes
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count bucket hashes: %w", err)
	}
	return count, nil
}

func (s *Store) ResetBuckets(ctx context.Context, q BucketQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM bucket_hashes
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset bucket hashes: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset bucket hashes: %w", err)
	}
	return affected, nil
}
