package jobboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/model"
)

// Searcher is implemented by Client, Fake and Cached.
type Searcher interface {
	SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error)
}

// Cached keeps job board answers in redis for ttl. Redis failures fall back
// to the wrapped searcher.
type Cached struct {
	next   Searcher
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a redis cache.
func NewCached(next Searcher, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// CacheKey rounds coordinates to about 100m so nearby searches share entries.
func CacheKey(q model.CompanySearchQuery) string {
	return fmt.Sprintf("jobboard:%s:%.3f:%.3f:%g", q.Rome, q.Lat, q.Lon, q.DistanceKm)
}

// SearchCompanies serves from redis when possible.
func (c *Cached) SearchCompanies(ctx context.Context, query model.CompanySearchQuery) ([]model.SearchResult, error) {
	key := CacheKey(query)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []model.SearchResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		c.logger.Warn("job board cache entry unreadable", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("job board cache read failed", zap.String("key", key), zap.Error(err))
	}

	results, err := c.next.SearchCompanies(ctx, query)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return results, nil
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("job board cache write failed", zap.String("key", key), zap.Error(err))
	}
	return results, nil
}
