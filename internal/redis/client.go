package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/geodata-pusher/internal/types"
)

// BlobRunTTL is how long a blob status stays in the cache
const BlobRunTTL = 7 * 24 * time.Hour

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func blobKey(name string) string {
	return "blob:" + name
}

func runKey(runID string) string {
	return fmt.Sprintf("run:%s:blobs", runID)
}

// SetBlobRun caches the latest status of a blob and indexes it under its run
func (c *Client) SetBlobRun(ctx context.Context, run *types.BlobRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal blob run: %w", err)
	}

	if err := c.client.Set(ctx, blobKey(run.Blob), data, BlobRunTTL).Err(); err != nil {
		return fmt.Errorf("failed to store blob run: %w", err)
	}

	if run.RunID == "" {
		return nil
	}
	key := runKey(run.RunID)
	if err := c.client.SAdd(ctx, key, run.Blob).Err(); err != nil {
		return fmt.Errorf("failed to index blob run: %w", err)
	}
	return c.client.Expire(ctx, key, BlobRunTTL).Err()
}

// GetBlobRun returns the cached status of a blob, or nil when none is cached
func (c *Client) GetBlobRun(ctx context.Context, name string) (*types.BlobRun, error) {
	data, err := c.client.Get(ctx, blobKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob run: %w", err)
	}

	var run types.BlobRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blob run: %w", err)
	}
	return &run, nil
}

// GetRunBlobs returns the names of the blobs a run has touched, sorted
func (c *Client) GetRunBlobs(ctx context.Context, runID string) ([]string, error) {
	names, err := c.client.SMembers(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run blobs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteBlobRun removes the cached status of a blob
func (c *Client) DeleteBlobRun(ctx context.Context, name string) error {
	return c.client.Del(ctx, blobKey(name)).Err()
}
