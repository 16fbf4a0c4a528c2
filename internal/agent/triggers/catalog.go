// Package triggers is the trigger sub-agent: it matches a task against the
// automations a tenant configured and starts the selected one.
package triggers

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Catalog lists the triggers of a tenant in a stable order.
type Catalog interface {
	List(ctx context.Context, tenant string) ([]model.Trigger, error)
}

// RedisCatalog keeps triggers as JSON values of the hash "triggers:{tenant}"
// keyed by trigger id.
type RedisCatalog struct {
	rdb redis.Cmdable
}

func NewRedisCatalog(rdb redis.Cmdable) *RedisCatalog {
	return &RedisCatalog{rdb: rdb}
}

func catalogKey(tenant string) string {
	return fmt.Sprintf("triggers:%s", tenant)
}

// Put stores t, assigning an id when it has none, and returns the stored trigger.
func (c *RedisCatalog) Put(ctx context.Context, tenant string, t model.Trigger) (model.Trigger, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return model.Trigger{}, fmt.Errorf("encode trigger %s: %w", t.ID, err)
	}
	if err := c.rdb.HSet(ctx, catalogKey(tenant), t.ID, body).Err(); err != nil {
		return model.Trigger{}, errx.WrapRedis(err)
	}
	return t, nil
}

func (c *RedisCatalog) Delete(ctx context.Context, tenant, id string) error {
	if err := c.rdb.HDel(ctx, catalogKey(tenant), id).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// List returns the triggers of tenant ordered by name, then id. Entries that
// fail to decode are skipped.
func (c *RedisCatalog) List(ctx context.Context, tenant string) ([]model.Trigger, error) {
	raw, err := c.rdb.HGetAll(ctx, catalogKey(tenant)).Result()
	if err != nil {
		logx.Error().Err(err).Str("tenant", tenant).Msg("failed to load triggers from redis")
		return nil, errx.WrapRedis(err)
	}

	out := make([]model.Trigger, 0, len(raw))
	for id, body := range raw {
		var t model.Trigger
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			logx.Warn().Err(err).Str("tenant", tenant).Str("trigger_id", id).Msg("Skipping undecodable trigger")
			continue
		}
		if t.ID == "" {
			t.ID = id
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b model.Trigger) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
