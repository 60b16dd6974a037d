package blobd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisBlobPrefix = "xsync:blob:"
	redisNamePrefix = "xsync:name:"
	redisAllKey     = "xsync:blobs"
	redisSeqKey     = "xsync:blob-seq"
)

// RedisBackend stores each blob as a JSON string and indexes it in a sorted
// set per name (plus one for all blobs), scored by a monotonic sequence.
type RedisBackend struct {
	client *redis.Client
}

// OpenRedisBackend connects to redisURL and verifies the connection.
func OpenRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	return NewRedisBackend(client), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Create implements Backend.
func (r *RedisBackend) Create(ctx context.Context, b Blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal blob: %w", err)
	}

	seq, err := r.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate blob sequence: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisBlobPrefix+b.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set blob: %w", err)
	}
	if !ok {
		return fmt.Errorf("blob %s already exists", b.ID)
	}

	member := redis.Z{Score: float64(seq), Member: b.ID}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisAllKey, member)
		pipe.ZAdd(ctx, redisNamePrefix+b.Name, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index blob: %w", err)
	}
	return nil
}

// Latest implements Backend.
func (r *RedisBackend) Latest(ctx context.Context, name string) (Blob, error) {
	key := redisAllKey
	if name != "" {
		key = redisNamePrefix + name
	}

	ids, err := r.client.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read blob index: %w", err)
	}
	if len(ids) == 0 {
		return Blob{}, ErrNotFound
	}
	return r.Get(ctx, ids[0])
}

// Get implements Backend.
func (r *RedisBackend) Get(ctx context.Context, id string) (Blob, error) {
	data, err := r.client.Get(ctx, redisBlobPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("failed to get blob: %w", err)
	}

	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, fmt.Errorf("failed to unmarshal blob: %w", err)
	}
	return b, nil
}

// Close implements Backend.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
