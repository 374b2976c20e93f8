package redis

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/autoria-crawler/pkg/metrics"
)

// warmChunk bounds the number of members per SADD during warm-up.
const warmChunk = 1000

// DedupRepoImpl implements repository.DedupRepository over a Redis set.
// After the first Redis error it stops calling Redis and reports every URL
// as unseen for the rest of its life.
type DedupRepoImpl struct {
	client *redis.Client
	key    string
	logger *zap.Logger

	degraded atomic.Bool
	warnOnce sync.Once
}

// NewDedupRepo creates a dedup cache backed by the set at key.
func NewDedupRepo(client *redis.Client, key string, logger *zap.Logger) *DedupRepoImpl {
	return &DedupRepoImpl{client: client, key: key, logger: logger}
}

// Degraded reports whether the cache switched to pass-through mode.
func (r *DedupRepoImpl) Degraded() bool {
	return r.degraded.Load()
}

// Contains checks set membership with SISMEMBER.
func (r *DedupRepoImpl) Contains(ctx context.Context, url string) bool {
	if r.degraded.Load() {
		return false
	}
	ok, err := r.client.SIsMember(ctx, r.key, url).Result()
	if err != nil {
		r.degrade(err)
		return false
	}
	return ok
}

// Add records url with SADD.
func (r *DedupRepoImpl) Add(ctx context.Context, url string) {
	if r.degraded.Load() {
		return
	}
	if err := r.client.SAdd(ctx, r.key, url).Err(); err != nil {
		r.degrade(err)
	}
}

// Warm clears the set and loads urls in one MULTI/EXEC transaction.
func (r *DedupRepoImpl) Warm(ctx context.Context, urls []string) error {
	if r.degraded.Load() {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key)
	for start := 0; start < len(urls); start += warmChunk {
		end := min(start+warmChunk, len(urls))
		members := make([]interface{}, 0, end-start)
		for _, u := range urls[start:end] {
			members = append(members, u)
		}
		pipe.SAdd(ctx, r.key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.degrade(err)
		return err
	}
	r.logger.Info("dedup cache warmed", zap.String("key", r.key), zap.Int("urls", len(urls)))
	return nil
}

func (r *DedupRepoImpl) degrade(err error) {
	if r.degraded.CompareAndSwap(false, true) {
		metrics.DedupDegraded.Inc()
	}
	r.warnOnce.Do(func() {
		r.logger.Warn("dedup store unavailable, treating every listing as unseen",
			zap.String("key", r.key),
			zap.Error(err),
		)
	})
}
