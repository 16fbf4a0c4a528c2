// Package metrics accumulates per-turn token usage and latency and exports
// them as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_orchestrator"

// Collector owns the Prometheus series. It is shared by every conversation;
// the per-turn accumulators are created from it.
type Collector struct {
	tokens *prometheus.HistogramVec
	cost   *prometheus.CounterVec

	totalTime      prometheus.Histogram
	firstToken     prometheus.Histogram
	generationTime prometheus.Histogram
	retrievalTime  prometheus.Histogram
}

// NewCollector registers the series on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	latency := []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

	return &Collector{
		tokens: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_tokens",
				Help:      "Tokens per model call",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
			},
			[]string{"node", "model", "token_type"}, // token_type: input, output, cached
		),
		cost: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_cost_usd_total",
				Help:      "Total LLM cost in USD",
			},
			[]string{"model"},
		),
		totalTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a chat turn",
			Buckets:   latency,
		}),
		firstToken: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Latency until the first answer chunk",
			Buckets:   latency,
		}),
		generationTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Turn time after the first answer chunk",
			Buckets:   latency,
		}),
		retrievalTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of one retrieval sub-agent run",
			Buckets:   latency,
		}),
	}
}

// NewUsage starts a per-turn usage accumulator.
func (c *Collector) NewUsage() *Usage {
	return &Usage{collector: c, byModel: make(map[string]*modelTotals)}
}

// NewTiming starts a per-turn timing accumulator. now defaults to time.Now.
func (c *Collector) NewTiming(now func() time.Time) *Timing {
	if now == nil {
		now = time.Now
	}
	return &Timing{collector: c, now: now}
}
