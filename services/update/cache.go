package update

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"updater-controlplane/pkg/rediskey"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReleaseCache memoizes the registry answer, including "no release".
type ReleaseCache interface {
	Get(ctx context.Context) (*Release, bool)
	Set(ctx context.Context, rel *Release)
}

type cachedRelease struct {
	Release *Release `json:"release"`
}

type redisReleaseCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisReleaseCache(client *redis.Client, repo string, ttl time.Duration) ReleaseCache {
	return &redisReleaseCache{client: client, key: rediskey.BuildLatestReleaseKey(repo), ttl: ttl}
}

func (c *redisReleaseCache) Get(ctx context.Context) (*Release, bool) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("[Release] cache read failed", zap.String("key", c.key), zap.Error(err))
		}
		return nil, false
	}

	var entry cachedRelease
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return entry.Release, true
}

func (c *redisReleaseCache) Set(ctx context.Context, rel *Release) {
	raw, err := json.Marshal(cachedRelease{Release: rel})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		zap.L().Warn("[Release] cache write failed", zap.String("key", c.key), zap.Error(err))
	}
}

type memoryReleaseCache struct {
	cache *gocache.Cache
	ttl   time.Duration
}

const memoryCacheKey = "latest"

func NewMemoryReleaseCache(ttl time.Duration) ReleaseCache {
	return &memoryReleaseCache{cache: gocache.New(ttl, 2*ttl), ttl: ttl}
}

func (c *memoryReleaseCache) Get(context.Context) (*Release, bool) {
	v, ok := c.cache.Get(memoryCacheKey)
	if !ok {
		return nil, false
	}
	entry, ok := v.(cachedRelease)
	return entry.Release, ok
}

func (c *memoryReleaseCache) Set(_ context.Context, rel *Release) {
	c.cache.Set(memoryCacheKey, cachedRelease{Release: rel}, c.ttl)
}
