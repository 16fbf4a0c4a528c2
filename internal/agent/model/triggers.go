package model

// ActionTriggerFlipFlow starts a conversational flow on the client.
const ActionTriggerFlipFlow = "trigger_flip_flow"

// TriggerAction is one side effect of selecting a trigger.
type TriggerAction struct {
	Type        string `json:"type"`
	APIClientID string `json:"api_client_id,omitempty"`
	Keyword     string `json:"keyword,omitempty"`
	FlowName    string `json:"flow_name,omitempty"`
}

// Trigger is a tenant-configured automation the chat can start.
type Trigger struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Actions     []TriggerAction `json:"actions"`
}
