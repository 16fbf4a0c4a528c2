package stream

import "github.com/workplace-chat/orchestrator/internal/agent/model"

// Kind is the value of the "event" field of a record.
type Kind string

const (
	KindAnswer                Kind = "answer"
	KindRefinedContext        Kind = "refined_context"
	KindRetrievalAgentStates  Kind = "retrieval_agent_states"
	KindUserSearchAgentStates Kind = "user_search_agent_states"
	KindToolCalls             Kind = "tool_calls"
	KindTimeToFirstToken      Kind = "time_2_first_token"
	KindTriggerFlipFlow       Kind = "trigger_flip_flow"
	KindError                 Kind = "error"
)

// Event is a typed payload. Its JSON object fields are merged after the
// "event" discriminator.
type Event interface {
	EventKind() Kind
}

type AnswerEvent struct {
	Answer string `json:"answer"`
}

func (AnswerEvent) EventKind() Kind { return KindAnswer }

type RefinedContextEvent struct {
	RefinedContext []any `json:"refined_context"`
}

func (RefinedContextEvent) EventKind() Kind { return KindRefinedContext }

type RetrievalAgentStatesEvent struct {
	States []*model.RetrievalState `json:"retrieval_agent_states"`
}

func (RetrievalAgentStatesEvent) EventKind() Kind { return KindRetrievalAgentStates }

type UserSearchAgentStatesEvent struct {
	States []*model.UserSearchState `json:"user_search_agent_states"`
}

func (UserSearchAgentStatesEvent) EventKind() Kind { return KindUserSearchAgentStates }

type ToolCallsEvent struct {
	Agent     string           `json:"agent,omitempty"`
	ToolCalls []model.ToolCall `json:"tool_calls"`
}

func (ToolCallsEvent) EventKind() Kind { return KindToolCalls }

// TimeToFirstTokenEvent carries the latency in seconds.
type TimeToFirstTokenEvent struct {
	Seconds float64 `json:"time_2_first_token"`
}

func (TimeToFirstTokenEvent) EventKind() Kind { return KindTimeToFirstToken }

type TriggerFlipFlowEvent struct {
	APIClientID string `json:"api_client_id"`
	Keyword     string `json:"keyword"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Index       int    `json:"index"`
}

func (TriggerFlipFlowEvent) EventKind() Kind { return KindTriggerFlipFlow }

type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) EventKind() Kind { return KindError }
