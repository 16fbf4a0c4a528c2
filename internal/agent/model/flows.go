package model

// Flow is a conversational flow of a tenant the chat can start on the client.
type Flow struct {
	Name    string `json:"name"`
	Keyword string `json:"keyword"`
	// Description holds the flow's AI instructions.
	Description string `json:"ai_instructions"`
	APIClientID string `json:"user_id"`
}

// FlowState is the result of one flow sub-agent run.
type FlowState struct {
	Task          string `json:"task"`
	Answer        string `json:"answer"`
	SelectedIndex int    `json:"selected_flow_index"`
}
