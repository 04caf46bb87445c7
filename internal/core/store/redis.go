package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
)

const defaultRedisPrefix = "ratelane"

// RedisStore keeps bucket hashes in a single Redis hash so several processes
// can warm-start from the same learned buckets.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

var _ BucketStore = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedis connects to the Redis server named in cfg.
func OpenRedis(ctx context.Context, cfg config.StoreConfig) (*RedisStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	options, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis store: %w", err)
	}
	return NewRedisStore(rdb, WithRedisPrefix(cfg.RedisPrefix)), nil
}

func redisOptions(cfg config.StoreConfig) (*redis.Options, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		options, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if cfg.AuthToken != "" && options.Password == "" {
			options.Password = cfg.AuthToken
		}
		return options, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("redis address or url is required")
	}
	return &redis.Options{
		Addr:     addr,
		Password: cfg.AuthToken,
		DB:       cfg.RedisDB,
	}, nil
}

func (s *RedisStore) key() string {
	return s.prefix + ":bucket_hashes"
}

// Driver returns "redis".
func (s *RedisStore) Driver() string {
	return driverRedis
}

// Close releases the client.
func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// LoadBucketHashes returns every stored bucket hash.
func (s *RedisStore) LoadBucketHashes(ctx context.Context) (map[string]core.BucketHash, error) {
	if s == nil || s.rdb == nil {
		return nil, errors.New("store is not initialized")
	}
	raw, err := s.rdb.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("load bucket hashes: %w", err)
	}
	return decodeRedisHashes(raw), nil
}

// SaveBucketHashes merges hashes into the shared Redis hash. Entries written
// by other processes are kept, and a stored entry with a newer last access
// wins over the incoming one.
func (s *RedisStore) SaveBucketHashes(ctx context.Context, hashes map[string]core.BucketHash) error {
	if s == nil || s.rdb == nil {
		return errors.New("store is not initialized")
	}

	keys := make([]string, 0, len(hashes))
	for key := range hashes {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}

	save := func(tx *redis.Tx) error {
		stored, err := tx.HMGet(ctx, s.key(), keys...).Result()
		if err != nil {
			return err
		}
		existing := make(map[string]string, len(keys))
		for i, value := range stored {
			if raw, ok := value.(string); ok {
				existing[keys[i]] = raw
			}
		}

		fields, err := mergeRedisHashes(existing, hashes)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key(), fields)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisSaveAttempts; attempt++ {
		err := s.rdb.Watch(ctx, save, s.key())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save bucket hashes: %w", err)
		}
		return nil
	}
	return fmt.Errorf("save bucket hashes: %w", redis.TxFailedErr)
}

// redisSaveAttempts bounds retries when another process writes the key
// between our read and write.
const redisSaveAttempts = 5

// mergeRedisHashes returns the fields to write: incoming entries that are new
// or at least as recent as what is stored under the same key.
func mergeRedisHashes(existing map[string]string, incoming map[string]core.BucketHash) (map[string]any, error) {
	fields, err := encodeRedisHashes(incoming)
	if err != nil {
		return nil, err
	}
	current := decodeRedisHashes(existing)
	for key := range fields {
		stored, ok := current[key]
		if ok && stored.LastAccess > incoming[key].LastAccess {
			delete(fields, key)
		}
	}
	return fields, nil
}

func (s *RedisStore) ListBuckets(ctx context.Context, q BucketQuery) ([]BucketEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	hashes, err := s.LoadBucketHashes(ctx)
	if err != nil {
		return nil, err
	}
	return filterEntries(hashes, q), nil
}

func (s *RedisStore) CountBuckets(ctx context.Context, q BucketQuery) (int, error) {
	entries, err := s.ListBuckets(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *RedisStore) ResetBuckets(ctx context.Context, q BucketQuery) (int64, error) {
	entries, err := s.ListBuckets(ctx, q)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	removed, err := s.rdb.HDel(ctx, s.key(), keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("reset bucket hashes: %w", err)
	}
	return removed, nil
}

type redisBucketValue struct {
	Hash       string `json:"hash"`
	LastAccess int64  `json:"last_access"`
}

func encodeRedisHashes(hashes map[string]core.BucketHash) (map[string]any, error) {
	fields := make(map[string]any, len(hashes))
	for key, hash := range hashes {
		if strings.TrimSpace(key) == "" || hash.Value == "" || hash.Synthetic() {
			continue
		}
		encoded, err := json.Marshal(redisBucketValue{Hash: hash.Value, LastAccess: hash.LastAccess})
		if err != nil {
			return nil, fmt.Errorf("encode bucket hash: %w", err)
		}
		fields[key] = string(encoded)
	}
	return fields, nil
}

func decodeRedisHashes(raw map[string]string) map[string]core.BucketHash {
	hashes := make(map[string]core.BucketHash, len(raw))
	for key, value := range raw {
		var decoded redisBucketValue
		if err := json.Unmarshal([]byte(value), &decoded); err != nil || decoded.Hash == "" {
			continue
		}
		hashes[key] = core.BucketHash{Value: decoded.Hash, LastAccess: decoded.LastAccess}
	}
	return hashes
}

func filterEntries(hashes map[string]core.BucketHash, q BucketQuery) []BucketEntry {
	entries := make([]BucketEntry, 0, len(hashes))
	for key, hash := range hashes {
		if !q.Matches(key) {
			continue
		}
		entries = append(entries, BucketEntry{Key: key, Hash: hash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
