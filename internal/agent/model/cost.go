package model

import "strings"

// TokenUsage is the token count reported for one model call.
type TokenUsage struct {
	Input  int `json:"input_tokens"`
	Output int `json:"output_tokens"`
	Cached int `json:"cached_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.Input + u.Output
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Cached += other.Cached
}

// Pricing defines USD cost per 1M tokens.
type Pricing struct {
	InputPerM       float64
	CachedInputPerM float64
	OutputPerM      float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Gemini standard text pricing.
	"gemini-2.5-flash":      {InputPerM: 0.30, CachedInputPerM: 0.075, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, CachedInputPerM: 0.025, OutputPerM: 0.40},
	// Azure OpenAI global deployments.
	"gpt-4o-mini":  {InputPerM: 0.15, CachedInputPerM: 0.075, OutputPerM: 0.60},
	"gpt-4.1":      {InputPerM: 2.00, CachedInputPerM: 0.50, OutputPerM: 8.00},
	"gpt-4.1-mini": {InputPerM: 0.40, CachedInputPerM: 0.10, OutputPerM: 1.60},
	"gpt-4.1-nano": {InputPerM: 0.10, CachedInputPerM: 0.025, OutputPerM: 0.40},
}

// ResolvePricing returns hardcoded pricing for a model. Provider prefixes such
// as "azure/" are ignored. Unknown models price at zero.
func ResolvePricing(model string) (Pricing, bool) {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	p, ok := defaultPricing[model]
	return p, ok
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
// Cached input tokens are charged at the cached rate and excluded from the
// regular input charge.
func ComputeCost(usage TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	uncached := max(usage.Input-usage.Cached, 0)
	inputCost = (p.InputPerM*float64(uncached) + p.CachedInputPerM*float64(usage.Cached)) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.Output) / 1_000_000.0
	total = inputCost + outputCost
	return
}
