package traffic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the subset of *redis.Client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cached memoizes estimates per location and local hour in Redis. Cache
// errors are logged and the wrapped estimator is consulted instead.
type Cached struct {
	next      Estimator
	store     Store
	ttl       time.Duration
	loc       *time.Location
	keyPrefix string
	log       *zap.Logger
}

// NewCached wraps next. Hours are taken in loc, which should be the zone
// next buckets its estimates in; nil means UTC.
func NewCached(next Estimator, store Store, ttl time.Duration, loc *time.Location, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cached{next: next, store: store, ttl: ttl, loc: loc, keyPrefix: "traffic:", log: log}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (c *Cached) key(location string, at time.Time) string {
	loc := strings.ToLower(strings.Join(strings.Fields(location), "_"))
	return c.keyPrefix + loc + ":" + at.In(c.loc).Format("2006010215")
}

func (c *Cached) Estimate(ctx context.Context, location string, at time.Time) (time.Duration, error) {
	key := c.key(location, at)
	val, err := c.store.Get(ctx, key).Result()
	switch {
	case err == nil:
		if sec, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return time.Duration(sec) * time.Second, nil
		}
		c.log.Warn("discarding malformed traffic cache entry", zap.String("key", key), zap.String("value", val))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("traffic cache read failed", zap.String("key", key), zap.Error(err))
	}

	d, err := c.next.Estimate(ctx, location, at)
	if err != nil {
		return 0, err
	}
	if err := c.store.Set(ctx, key, strconv.FormatInt(int64(d/time.Second), 10), c.ttl).Err(); err != nil {
		c.log.Warn("traffic cache write failed", zap.String("key", key), zap.Error(err))
	}
	return d, nil
}
