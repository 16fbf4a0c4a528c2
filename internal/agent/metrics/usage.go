package metrics

import (
	"sort"
	"sync"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

type modelTotals struct {
	usage model.TokenUsage
	calls int
}

// Usage sums token usage per model for one turn. Record is safe for
// concurrent use because filter batches report in parallel.
type Usage struct {
	collector *Collector

	mu      sync.Mutex
	byModel map[string]*modelTotals
	final   *UsageSummary
}

// ModelUsage is the priced total for one model.
type ModelUsage struct {
	Model      string           `json:"model"`
	Calls      int              `json:"calls"`
	Tokens     model.TokenUsage `json:"tokens"`
	InputCost  float64          `json:"input_cost_usd"`
	OutputCost float64          `json:"output_cost_usd"`
	TotalCost  float64          `json:"total_cost_usd"`
	Priced     bool             `json:"priced"`
}

// UsageSummary is the finalized usage of a turn.
type UsageSummary struct {
	Models       []ModelUsage     `json:"models"`
	Tokens       model.TokenUsage `json:"tokens"`
	TotalCostUSD float64          `json:"total_cost_usd"`
}

// Record adds one model call made by node.
func (u *Usage) Record(node, modelName string, usage model.TokenUsage) {
	if u == nil {
		return
	}
	u.mu.Lock()
	t, ok := u.byModel[modelName]
	if !ok {
		t = &modelTotals{}
		u.byModel[modelName] = t
	}
	t.usage.Add(usage)
	t.calls++
	u.mu.Unlock()

	if u.collector == nil {
		return
	}
	u.collector.tokens.WithLabelValues(node, modelName, "input").Observe(float64(usage.Input))
	u.collector.tokens.WithLabelValues(node, modelName, "output").Observe(float64(usage.Output))
	u.collector.tokens.WithLabelValues(node, modelName, "cached").Observe(float64(usage.Cached))
}

// Finalize prices the totals. The result is memoized so the cost counter
// advances once per turn.
func (u *Usage) Finalize() UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.final != nil {
		return *u.final
	}

	var s UsageSummary
	for name, t := range u.byModel {
		p, priced := model.ResolvePricing(name)
		in, out, total := model.ComputeCost(t.usage, p)
		s.Models = append(s.Models, ModelUsage{
			Model:      name,
			Calls:      t.calls,
			Tokens:     t.usage,
			InputCost:  in,
			OutputCost: out,
			TotalCost:  total,
			Priced:     priced,
		})
		s.Tokens.Add(t.usage)
		s.TotalCostUSD += total
	}
	sort.Slice(s.Models, func(i, j int) bool { return s.Models[i].Model < s.Models[j].Model })

	if u.collector != nil {
		for _, m := range s.Models {
			u.collector.cost.WithLabelValues(m.Model).Add(m.TotalCost)
		}
	}
	u.final = &s
	return s
}
