package triggers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/llm/llmtest"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
)

func newCatalog(t *testing.T) (*miniredis.Miniredis, *RedisCatalog) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisCatalog(rdb)
}

func seed(t *testing.T, c *RedisCatalog) {
	t.Helper()
	ctx := context.Background()
	for _, tr := range []model.Trigger{
		{ID: "t-vac", Name: "Vacation request", Description: "Start a vacation request", Actions: []model.TriggerAction{
			{Type: model.ActionTriggerFlipFlow, APIClientID: "client-1", Keyword: "vacation", FlowName: "Absence Assistant"},
		}},
		{ID: "t-empty", Name: "Bike lease", Description: "Lease a company bike"},
	} {
		_, err := c.Put(ctx, "acme", tr)
		require.NoError(t, err)
	}
}

func events(t *testing.T, bus *stream.Bus) []map[string]any {
	t.Helper()
	bus.Close()
	var out []map[string]any
	for {
		rec, ok := bus.Next(context.Background())
		if !ok {
			return out
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(rec, &m))
		out = append(out, m)
	}
}

func TestCatalogOrdersByName(t *testing.T) {
	mr, c := newCatalog(t)
	seed(t, c)
	mr.HSet("triggers:acme", "broken", "{not json")

	list, err := c.List(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bike lease", list[0].Name)
	assert.Equal(t, "Vacation request", list[1].Name)

	stored, err := c.Put(context.Background(), "acme", model.Trigger{Name: "Onboarding"})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.NotEmpty(t, mr.HGet("triggers:acme", stored.ID))

	require.NoError(t, c.Delete(context.Background(), "acme", stored.ID))
	assert.Empty(t, mr.HGet("triggers:acme", stored.ID))

	empty, err := c.List(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCatalogRedisFailure(t *testing.T) {
	mr, c := newCatalog(t)
	mr.SetError("READONLY")
	_, err := c.List(context.Background(), "acme")
	assert.Error(t, err)
}

func TestFlowTriggerEmitsEvent(t *testing.T) {
	_, c := newCatalog(t)
	seed(t, c)
	gw := llmtest.New("gpt-4.1-mini", llmtest.JSON(Selection{Index: 2, ReturnMessage: "I started the vacation request for you."}))
	a := &Agent{Model: gw, Catalog: c, Config: model.TriggerConfig{Retries: 1, MaxAgentCalls: 1}}
	bus := stream.NewBus(false)

	s, err := a.Run(context.Background(), subagent.Env{Bus: bus, Tenant: "acme"}, "I want to take next week off")
	require.NoError(t, err)
	assert.Equal(t, 2, s.SelectedIndex)
	assert.Equal(t, "I started the vacation request for you.", s.Answer)

	assert.Contains(t, gw.Requests()[0].System, "**[2] Vacation request**: Start a vacation request")
	assert.True(t, gw.Requests()[0].JSON)

	got := events(t, bus)
	require.Len(t, got, 1)
	assert.Equal(t, "trigger_flip_flow", got[0]["event"])
	assert.Equal(t, "client-1", got[0]["api_client_id"])
	assert.Equal(t, "vacation", got[0]["keyword"])
	assert.Equal(t, "Absence Assistant", got[0]["name"])
	assert.Equal(t, float64(2), got[0]["index"])
}

func TestInvalidIndexIsRetried(t *testing.T) {
	_, c := newCatalog(t)
	seed(t, c)
	gw := llmtest.New("gpt-4.1-mini",
		llmtest.JSON(Selection{Index: 7, ReturnMessage: "Started."}),
		llmtest.JSON(Selection{Index: 0, ReturnMessage: "No triggers applicable. Nothing fits."}),
	)
	a := &Agent{Model: gw, Catalog: c, Config: model.TriggerConfig{Retries: 1}}

	s, err := a.Run(context.Background(), subagent.Env{Tenant: "acme"}, "order pizza")
	require.NoError(t, err)
	assert.Zero(t, s.SelectedIndex)
	assert.Equal(t, "No triggers applicable. Nothing fits.", s.Answer)

	second := gw.Requests()[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "The selected index 7 is not a valid trigger, please choose a valid one.", second[2].Content)
}

func TestRetriesExhausted(t *testing.T) {
	_, c := newCatalog(t)
	seed(t, c)
	gw := llmtest.New("gpt-4.1-mini", llmtest.Text("the second one"), llmtest.JSON(Selection{Index: 9}))
	a := &Agent{Model: gw, Catalog: c, Config: model.TriggerConfig{Retries: 1}}

	s, err := a.Run(context.Background(), subagent.Env{Tenant: "acme"}, "anything")
	require.NoError(t, err)
	assert.Equal(t, NoTriggerAnswer, s.Answer)
	assert.Equal(t, 2, gw.Calls())
}

func TestTriggerWithoutActions(t *testing.T) {
	_, c := newCatalog(t)
	seed(t, c)
	gw := llmtest.New("gpt-4.1-mini", llmtest.JSON(Selection{Index: 1, ReturnMessage: "Leasing a bike."}))
	a := &Agent{Model: gw, Catalog: c}
	bus := stream.NewBus(false)

	s, err := a.Run(context.Background(), subagent.Env{Bus: bus, Tenant: "acme"}, "bike")
	require.NoError(t, err)
	assert.Equal(t, NoTriggerAnswer, s.Answer)
	assert.Zero(t, s.SelectedIndex)
	assert.Empty(t, events(t, bus))
}

func TestSubAgentEntry(t *testing.T) {
	_, c := newCatalog(t)
	seed(t, c)
	gw := llmtest.New("gpt-4.1-mini", llmtest.JSON(Selection{Index: 0, ReturnMessage: "No triggers applicable."}))
	entry := NewSubAgent(&Agent{Model: gw, Catalog: c, Config: model.TriggerConfig{Retries: 1, MaxAgentCalls: 1}})
	assert.Equal(t, featureflag.Triggers, entry.FeatureFlag)

	reg := subagent.NewRegistry(entry)
	state := &model.OrchestrationState{Ledger: model.NewLedger()}
	env := subagent.Env{Tenant: "acme"}

	out, err := reg.Call(context.Background(), env, state, subagent.ToolTriggerAgent, `{"task":"pizza"}`)
	require.NoError(t, err)
	assert.Equal(t, NoTriggerAnswer, out)
	assert.Equal(t, 1, state.Ledger.Count(model.AgentTrigger))

	out, err = reg.Call(context.Background(), env, state, subagent.ToolTriggerAgent, `{"task":"pizza again"}`)
	require.NoError(t, err)
	assert.Equal(t, "Maximum number of trigger calls exceeded.", out)
	assert.Equal(t, 1, gw.Calls())
}
