package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/ports"
)

const (
	keyPrefix     = "escrow:"
	generationTTL = 24 * time.Hour
)

// setIfGeneration writes the snapshot only while the generation key still
// holds the value the reader saw. A missing generation counts as 0.
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if (current or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisSnapshotCache stores whole escrow snapshots as JSON with a short TTL.
type RedisSnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSnapshotCache(client redis.Cmdable, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

// Both keys of a project share a hash tag so the script runs on one cluster slot.
func snapshotKey(projectID string) string { return keyPrefix + "{" + projectID + "}:snapshot" }

func generationKey(projectID string) string { return keyPrefix + "{" + projectID + "}:generation" }

func (c *RedisSnapshotCache) Get(ctx context.Context, projectID string) (*domain.EscrowSnapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKey(projectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSnapshot(raw)
}

func (c *RedisSnapshotCache) Generation(ctx context.Context, projectID string) (int64, error) {
	generation, err := c.client.Get(ctx, generationKey(projectID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return generation, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, projectID string, generation int64, snapshot domain.EscrowSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	keys := []string{generationKey(projectID), snapshotKey(projectID)}
	return setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(generation, 10), raw, c.ttl.Milliseconds()).Err()
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context, projectID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(projectID))
		pipe.Expire(ctx, generationKey(projectID), generationTTL)
		pipe.Del(ctx, snapshotKey(projectID))
		return nil
	})
	return err
}

func decodeSnapshot(raw []byte) (*domain.EscrowSnapshot, error) {
	var out domain.EscrowSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &out, nil
}

var _ ports.SnapshotCache = (*RedisSnapshotCache)(nil)
