package subagent

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"

	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

type researchArgs struct {
	ResearchTask string `json:"research_task"`
}

// MergeRetrievalCalls folds every call_retrieval_agent call of one model turn
// into a single call placed first. Research tasks are joined with ". " and
// the merged call keeps the id of the first call.
func MergeRetrievalCalls(calls []schema.ToolCall) []schema.ToolCall {
	var (
		retrieval []schema.ToolCall
		others    []schema.ToolCall
	)
	for _, c := range calls {
		if c.Function.Name == ToolRetrievalAgent {
			retrieval = append(retrieval, c)
		} else {
			others = append(others, c)
		}
	}
	if len(retrieval) <= 1 {
		return calls
	}

	tasks := make([]string, 0, len(retrieval))
	for _, c := range retrieval {
		var args researchArgs
		if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil || args.ResearchTask == "" {
			logx.Warn().Str("tool_call_id", c.ID).Msg("Dropping retrieval call without a research task from merge")
			continue
		}
		tasks = append(tasks, args.ResearchTask)
	}
	merged, _ := json.Marshal(researchArgs{ResearchTask: strings.Join(tasks, ". ")})

	first := retrieval[0]
	first.Function.Arguments = string(merged)
	return append([]schema.ToolCall{first}, others...)
}
