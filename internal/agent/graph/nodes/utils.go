package nodes

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

const DefaultMaxIterations = 8

// ===== Small helpers to keep the steps simple/readable =====
// normalizeMaxIterations returns a sane default when the provided value is invalid.
func normalizeMaxIterations(n int) int {
	if n <= 0 {
		return DefaultMaxIterations
	}
	return n
}

// toolLimitReached reports whether the chat model has used up its tool turns.
func toolLimitReached(state *model.ChatState, max int) bool {
	return state.Iteration >= normalizeMaxIterations(max)
}

// toolLimitNotice tells the model to answer with what it already has. It is
// only added to the request, never to the stored history.
func toolLimitNotice(max int) *schema.Message {
	return schema.UserMessage(fmt.Sprintf(
		"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
			"Do not call any more tools. Answer the user's question with the information you already have.",
		normalizeMaxIterations(max)))
}

// withNotice returns history plus notice without touching history's backing array.
func withNotice(history []*schema.Message, notice *schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, notice)
}
