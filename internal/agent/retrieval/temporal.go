package retrieval

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

const minHalfLifeDays = 1e-6

// Decay is the exponential recency decay for a chunk ageDays old.
// Negative ages count as zero.
func Decay(ageDays, halfLifeDays float64) float64 {
	halfLifeDays = max(halfLifeDays, minHalfLifeDays)
	ageDays = max(ageDays, 0)
	return math.Exp(-math.Ln2 / halfLifeDays * ageDays)
}

// Combined boosts similarity by the weighted decay.
func Combined(similarity, decay, weight float64) float64 {
	return similarity * (1 + weight*decay)
}

// TemporalScorer applies recency weighting for one corpus.
type TemporalScorer struct {
	Weight       float64
	HalfLifeDays float64
	Now          func() time.Time
}

// ScorerFor returns the tunables of kind.
func ScorerFor(cfg model.RetrievalConfig, kind model.SourceType, now func() time.Time) TemporalScorer {
	if now == nil {
		now = time.Now
	}
	if kind == model.SourcePage {
		return TemporalScorer{Weight: cfg.PageRecencyWeight, HalfLifeDays: cfg.PageHalfLifeDays, Now: now}
	}
	return TemporalScorer{Weight: cfg.PostRecencyWeight, HalfLifeDays: cfg.PostHalfLifeDays, Now: now}
}

// Apply scores items in place and sorts them by temporal score, best first.
// Items without an edit time get no recency boost.
func (s TemporalScorer) Apply(items []model.Evidence) {
	now := s.Now()
	for i := range items {
		it := &items[i]
		it.RecencyDecay = 0
		if !it.LastEdited.IsZero() {
			it.RecencyDecay = Decay(now.Sub(it.LastEdited).Hours()/24, s.HalfLifeDays)
		}
		it.TemporalScore = Combined(it.Similarity, it.RecencyDecay, s.Weight)
	}
	slices.SortStableFunc(items, func(a, b model.Evidence) int {
		return cmp.Compare(b.TemporalScore, a.TemporalScore)
	})
}
