package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a run set outlives its run in Redis.
const DefaultTTL = 24 * time.Hour

// addBatch is the number of members sent per SADD.
const addBatch = 500

// RedisSet is a Set kept out of process in a Redis set keyed by the run ID.
// The key expires after the TTL if the run never deletes it.
type RedisSet struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisSet creates a Redis-backed set for one run.
func NewRedisSet(redisClient *redis.Client, run vacancy.Run, ttl time.Duration) *RedisSet {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSet{
		redis: redisClient,
		key:   RunKey(run),
		ttl:   ttl,
	}
}

// RunKey generates the Redis key of a run set.
// Format: vds:run:<run-id>:refs
func RunKey(run vacancy.Run) string {
	return strings.Join([]string{"vds", "run", run.ID.String(), "refs"}, ":")
}

// Key returns the Redis key backing the set.
func (s *RedisSet) Key() string {
	return s.key
}

// Add implements Set.
func (s *RedisSet) Add(ctx context.Context, refs ...vacancy.Reference) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	added := 0
	for start := 0; start < len(refs); start += addBatch {
		end := min(start+addBatch, len(refs))
		members := make([]any, 0, end-start)
		for _, ref := range refs[start:end] {
			members = append(members, string(ref))
		}

		pipe := s.redis.TxPipeline()
		sadd := pipe.SAdd(ctx, s.key, members...)
		pipe.Expire(ctx, s.key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return added, fmt.Errorf("redis sadd: %w", err)
		}
		added += int(sadd.Val())
	}
	return added, nil
}

// Members implements Set.
func (s *RedisSet) Members(ctx context.Context) ([]vacancy.Reference, error) {
	members, err := s.redis.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	out := make([]vacancy.Reference, 0, len(members))
	for _, m := range members {
		out = append(out, vacancy.Reference(m))
	}
	return out, nil
}

// Len implements Set.
func (s *RedisSet) Len(ctx context.Context) (int, error) {
	n, err := s.redis.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return int(n), nil
}

// Delete removes the run set.
func (s *RedisSet) Delete(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
