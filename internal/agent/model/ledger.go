package model

// Agent types used as ledger keys.
const (
	AgentRetrieval  = "retrieval_agent"
	AgentUserSearch = "user_search_agent"
	AgentTrigger    = "trigger_agent"
	AgentFlow       = "flow_agent"
)

// Ledger records the result states of delegated sub-agent runs for one
// conversation turn, keyed by agent type.
type Ledger struct {
	records map[string][]any
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string][]any)}
}

// Record appends the final state of one sub-agent run.
func (l *Ledger) Record(agentType string, state any) {
	if l.records == nil {
		l.records = make(map[string][]any)
	}
	l.records[agentType] = append(l.records[agentType], state)
}

// ForAgent returns every recorded state for agentType in call order.
func (l *Ledger) ForAgent(agentType string) []any {
	if l == nil {
		return nil
	}
	return l.records[agentType]
}

// Count returns the number of completed runs of agentType.
func (l *Ledger) Count(agentType string) int {
	return len(l.ForAgent(agentType))
}

// RetrievalStates returns the recorded retrieval runs.
func (l *Ledger) RetrievalStates() []*RetrievalState {
	return statesOf[*RetrievalState](l, AgentRetrieval)
}

// UserSearchStates returns the recorded user-search runs.
func (l *Ledger) UserSearchStates() []*UserSearchState {
	return statesOf[*UserSearchState](l, AgentUserSearch)
}

func statesOf[T any](l *Ledger, agentType string) []T {
	var out []T
	for _, rec := range l.ForAgent(agentType) {
		if s, ok := rec.(T); ok {
			out = append(out, s)
		}
	}
	return out
}
