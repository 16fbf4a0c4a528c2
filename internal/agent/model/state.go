package model

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// QueryInput represents the input for processing user queries.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	Tenant         string `json:"tenant"`
	Query          string `json:"query"`
	Debug          bool   `json:"debug"`
}

// ToolCall is the flattened record of one tool invocation requested by a model.
type ToolCall struct {
	ID   string `json:"tool_call_id"`
	Name string `json:"tool_name"`
	Args string `json:"args"`
}

// ConversationState is the state shared by every agent graph.
// It is owned by a single run and is never shared across goroutines.
type ConversationState struct {
	Query     string            `json:"query"`
	Answer    string            `json:"answer"`
	Messages  []*schema.Message `json:"messages"`
	ToolCalls []ToolCall        `json:"tool_calls"`
	Iteration int               `json:"iteration"`
}

// AddMessage appends m unless the same message is already in the history and
// records any tool calls it carries. It reports whether m was appended.
func (s *ConversationState) AddMessage(m *schema.Message) bool {
	if m == nil {
		return false
	}
	for _, existing := range s.Messages {
		if existing == m {
			return false
		}
	}

	s.Messages = append(s.Messages, m)
	for _, tc := range m.ToolCalls {
		s.ToolCalls = append(s.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return true
}

// ToolCallCount returns how many recorded tool calls used name.
func (s *ConversationState) ToolCallCount(name string) int {
	n := 0
	for _, tc := range s.ToolCalls {
		if tc.Name == name {
			n++
		}
	}
	return n
}

// OrchestrationState is the state of an agent that delegates to sub-agents.
type OrchestrationState struct {
	ConversationState
	Ledger         *Ledger `json:"-"`
	RefinedContext []any   `json:"refined_context"`
}

// ChatState drives the top-level chat graph.
type ChatState struct {
	OrchestrationState
	ConversationID   string        `json:"conversation_id"`
	Tenant           string        `json:"tenant"`
	DetectedLanguage string        `json:"detected_language"`
	RefusalReason    string        `json:"refusal_reason,omitempty"`
	Refused          bool          `json:"refused"`
	TimeToFirstToken time.Duration `json:"time_to_first_token"`
	Debug            bool          `json:"debug"`
}

// NewChatState builds the state for one chat turn.
func NewChatState(in QueryInput, history []*schema.Message) *ChatState {
	s := &ChatState{
		OrchestrationState: OrchestrationState{Ledger: NewLedger()},
		ConversationID:     in.ConversationID,
		Tenant:             in.Tenant,
		Debug:              in.Debug,
	}
	s.Query = in.Query
	for _, m := range history {
		s.AddMessage(m)
	}
	return s
}

// SetRefusalReason records why the answer falls back to a refusal.
func (s *ChatState) SetRefusalReason(reason string) {
	s.RefusalReason = reason
}

// RetrievalState is the state of one retrieval sub-agent run.
type RetrievalState struct {
	ConversationState
	Evidence      []Evidence          `json:"second_stage_results"`
	Seen          map[string]struct{} `json:"-"`
	Verdicts      []Verdict           `json:"verdicts"`
	StopReason    StopReason          `json:"stop_reason"`
	RetrievalTime time.Duration       `json:"retrieval_time"`
	// NewThisRound counts evidence merged during the current search round.
	NewThisRound int `json:"-"`
}

// NewRetrievalState starts a retrieval run for task.
func NewRetrievalState(task string) *RetrievalState {
	s := &RetrievalState{Seen: make(map[string]struct{})}
	s.Query = task
	return s
}

// Unseen returns the candidates whose chunk ids were never reranked.
func (s *RetrievalState) Unseen(candidates []Evidence) []Evidence {
	out := make([]Evidence, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := s.Seen[c.ChunkID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// MarkSeen adds the chunk ids of items to the seen set.
func (s *RetrievalState) MarkSeen(items []Evidence) {
	if s.Seen == nil {
		s.Seen = make(map[string]struct{}, len(items))
	}
	for _, it := range items {
		s.Seen[it.ChunkID] = struct{}{}
	}
}

// UserSearchState is the state of one user-search sub-agent run.
type UserSearchState struct {
	ConversationState
	Users      []User `json:"users"`
	Partial    bool   `json:"partial"`
	TokensUsed int    `json:"tokens_used"`
}

// NewUserSearchState starts a user-search run for task.
func NewUserSearchState(task string) *UserSearchState {
	s := &UserSearchState{}
	s.Query = task
	return s
}

// AddUsers appends users not already present by id.
func (s *UserSearchState) AddUsers(users []User) {
	known := make(map[string]struct{}, len(s.Users))
	for _, u := range s.Users {
		known[u.ID] = struct{}{}
	}
	for _, u := range users {
		if _, ok := known[u.ID]; ok {
			continue
		}
		known[u.ID] = struct{}{}
		s.Users = append(s.Users, u)
	}
}

// TriggerState is the result of one trigger selection.
type TriggerState struct {
	Task          string `json:"task"`
	Answer        string `json:"answer"`
	SelectedIndex int    `json:"selected_index"`
}
