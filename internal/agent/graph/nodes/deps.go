package nodes

import (
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
)

// Node names used in logs, spans and usage metrics.
const (
	refusalNode       = "refusal_agent"
	languageNode      = "language_detection_agent"
	messageNode       = "message_agent"
	refusalAnswerNode = "refusal_answer_agent"
	filterNode        = "filter_used_context_agent"
)

// Deps are the collaborators of one chat turn.
type Deps struct {
	Chat       llm.Gateway
	Validation llm.Gateway
	Filter     llm.Gateway
	// Registry holds only the sub-agents enabled for the tenant.
	Registry *subagent.Registry
	Config   model.ChatConfig
	Company  prompts.Company
	Env      subagent.Env
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

type step = graph.Step[*model.ChatState, *Deps]

func end() step {
	return graph.End[*model.ChatState, *Deps]()
}
