// Package featureflag decides which optional agent features a tenant can use.
package featureflag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	UserSearch = "chat_user_search"
	Triggers   = "chat_triggers"
	Flows      = "chat_flip_flows"
)

// Gate reports whether flag is on for tenant.
type Gate interface {
	IsEnabled(ctx context.Context, tenant, flag string) (bool, error)
}

// StaticGate enables the same flags for every tenant.
type StaticGate struct {
	enabled map[string]struct{}
}

func NewStaticGate(flags ...string) *StaticGate {
	g := &StaticGate{enabled: make(map[string]struct{}, len(flags))}
	for _, f := range flags {
		g.enabled[f] = struct{}{}
	}
	return g
}

func (g *StaticGate) IsEnabled(_ context.Context, _ string, flag string) (bool, error) {
	_, ok := g.enabled[flag]
	return ok, nil
}

type cacheEntry struct {
	flags   map[string]struct{}
	expires time.Time
}

// RedisGate reads the set "feature_flags:{tenant}" and caches it per tenant.
type RedisGate struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

func NewRedisGate(rdb redis.Cmdable, ttl time.Duration) *RedisGate {
	return &RedisGate{
		rdb:   rdb,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// New builds the gate selected by cfg.Source.
func New(cfg model.FeatureFlagConfig, rdb redis.Cmdable) (Gate, error) {
	switch cfg.Source {
	case "", "static":
		return NewStaticGate(cfg.Enabled...), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis feature flag source needs a redis client")
		}
		return NewRedisGate(rdb, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown feature flag source %q", cfg.Source)
	}
}

func key(tenant string) string {
	return fmt.Sprintf("feature_flags:%s", tenant)
}

func (g *RedisGate) IsEnabled(ctx context.Context, tenant, flag string) (bool, error) {
	flags, err := g.load(ctx, tenant)
	if err != nil {
		return false, err
	}
	_, ok := flags[flag]
	return ok, nil
}

func (g *RedisGate) load(ctx context.Context, tenant string) (map[string]struct{}, error) {
	g.mu.RLock()
	entry, ok := g.cache[tenant]
	g.mu.RUnlock()
	if ok && g.now().Before(entry.expires) {
		return entry.flags, nil
	}

	v, err, _ := g.group.Do(tenant, func() (any, error) {
		members, err := g.rdb.SMembers(ctx, key(tenant)).Result()
		if err != nil {
			logx.Error().Err(err).Str("tenant", tenant).Msg("failed to load feature flags from redis")
			return nil, errx.WrapRedis(err)
		}
		flags := make(map[string]struct{}, len(members))
		for _, m := range members {
			flags[m] = struct{}{}
		}

		g.mu.Lock()
		g.cache[tenant] = cacheEntry{flags: flags, expires: g.now().Add(g.ttl)}
		g.mu.Unlock()
		return flags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

// Invalidate drops the cached flags of tenant.
func (g *RedisGate) Invalidate(tenant string) {
	g.mu.Lock()
	delete(g.cache, tenant)
	g.mu.Unlock()
}
