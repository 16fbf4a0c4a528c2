package retrieval

import (
	"slices"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// Merge adds fresh to existing and keeps the k best by the evidence order.
func Merge(existing, fresh []model.Evidence, k int) []model.Evidence {
	out := make([]model.Evidence, 0, len(existing)+len(fresh))
	out = append(out, existing...)
	out = append(out, fresh...)
	model.SortEvidence(out)
	if k >= 0 && len(out) > k {
		out = slices.Clip(out[:k])
	}
	return out
}
