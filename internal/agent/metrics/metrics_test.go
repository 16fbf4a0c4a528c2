package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

func TestUsageFinalizePricesPerModel(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	u := c.NewUsage()

	u.Record("chat_agent", "gpt-4.1", model.TokenUsage{Input: 1_000_000, Output: 100_000, Cached: 200_000})
	u.Record("rerank", "gemini-2.5-flash", model.TokenUsage{Input: 2_000_000, Output: 0})
	u.Record("rerank", "gemini-2.5-flash", model.TokenUsage{Input: 0, Output: 400_000})
	u.Record("custom", "in-house-model", model.TokenUsage{Input: 10, Output: 10})

	s := u.Finalize()
	require.Len(t, s.Models, 3)

	byName := map[string]ModelUsage{}
	for _, m := range s.Models {
		byName[m.Model] = m
	}

	gpt := byName["gpt-4.1"]
	assert.InDelta(t, 0.8*2.0+0.2*0.5, gpt.InputCost, 1e-9)
	assert.InDelta(t, 0.8, gpt.OutputCost, 1e-9)

	gemini := byName["gemini-2.5-flash"]
	assert.Equal(t, 2, gemini.Calls)
	assert.InDelta(t, 0.6+1.0, gemini.TotalCost, 1e-9)

	assert.False(t, byName["in-house-model"].Priced)
	assert.Zero(t, byName["in-house-model"].TotalCost)

	assert.Equal(t, 3_000_010, s.Tokens.Input)
	assert.InDelta(t, gpt.TotalCost+gemini.TotalCost, s.TotalCostUSD, 1e-9)

	// memoized: the counter advances once
	again := u.Finalize()
	assert.Equal(t, s.TotalCostUSD, again.TotalCostUSD)
	assert.InDelta(t, gemini.TotalCost, testutil.ToFloat64(c.cost.WithLabelValues("gemini-2.5-flash")), 1e-9)
	assert.Equal(t, 9, testutil.CollectAndCount(c.tokens))
}

func TestUsageRecordIsConcurrencySafe(t *testing.T) {
	u := NewCollector(prometheus.NewRegistry()).NewUsage()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Record("filter", "gpt-4o-mini", model.TokenUsage{Input: 1, Output: 1})
		}()
	}
	wg.Wait()

	s := u.Finalize()
	require.Len(t, s.Models, 1)
	assert.Equal(t, 50, s.Models[0].Calls)
	assert.Equal(t, 100, s.Tokens.Total())
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestTimingFinalize(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCollector(prometheus.NewRegistry())
	tm := c.NewTiming(clock.now)

	tm.StartTotal()
	clock.advance(2 * time.Second)
	tm.RecordRetrieval(1500 * time.Millisecond)
	tm.RecordRetrieval(500 * time.Millisecond)

	clock.advance(time.Second)
	ttft, first := tm.MarkFirstToken()
	assert.True(t, first)
	assert.Equal(t, 3*time.Second, ttft)

	clock.advance(time.Second)
	again, first := tm.MarkFirstToken()
	assert.False(t, first)
	assert.Equal(t, 3*time.Second, again)

	clock.advance(4 * time.Second)
	s := tm.Finalize()
	assert.Equal(t, 8*time.Second, s.Total)
	assert.Equal(t, 3*time.Second, s.TimeToFirstToken)
	assert.Equal(t, 5*time.Second, s.Generation)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 500 * time.Millisecond}, s.Retrievals)
	assert.Equal(t, 2*time.Second, s.RetrievalTotal)

	clock.advance(time.Minute)
	assert.Equal(t, s, tm.Finalize())
	assert.Equal(t, 1, testutil.CollectAndCount(c.totalTime))
}

func TestTimingWithoutFirstToken(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tm := NewCollector(prometheus.NewRegistry()).NewTiming(clock.now)
	tm.StartTotal()
	clock.advance(time.Second)

	s := tm.Finalize()
	assert.Equal(t, time.Second, s.Total)
	assert.Zero(t, s.TimeToFirstToken)
	assert.Zero(t, s.Generation)
}
