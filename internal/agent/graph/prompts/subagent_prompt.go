package prompts

import (
	"context"
	_ "embed"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

//go:embed template/user_search_system.txt
var userSearchSystemPrompt string

//go:embed template/trigger_system.txt
var triggerSystemPrompt string

//go:embed template/flow_system.txt
var flowSystemPrompt string

// RenderUserSearchSystem renders the user search agent prompt.
func RenderUserSearchSystem(ctx context.Context, company Company, task, searchTool string, maxResults int) (string, error) {
	return render(ctx, "user search system", userSearchSystemPrompt, map[string]any{
		"CompanyDescription": company.Description,
		"SearchTask":         task,
		"SearchTool":         searchTool,
		"MaxResults":         maxResults,
	})
}

type triggerOption struct {
	Index       int
	Name        string
	Description string
}

// RenderTriggerSystem lists triggers with 1-based indices.
func RenderTriggerSystem(ctx context.Context, triggers []model.Trigger) (string, error) {
	opts := make([]triggerOption, len(triggers))
	for i, t := range triggers {
		opts[i] = triggerOption{Index: i + 1, Name: t.Name, Description: t.Description}
	}
	return render(ctx, "trigger system", triggerSystemPrompt, map[string]any{
		"Triggers": opts,
	})
}

type flowOption struct {
	Index       int
	Name        string
	Keyword     string
	Description string
}

// RenderFlowSystem lists flows with 1-based indices.
func RenderFlowSystem(ctx context.Context, flows []model.Flow) (string, error) {
	opts := make([]flowOption, len(flows))
	for i, f := range flows {
		opts[i] = flowOption{Index: i + 1, Name: f.Name, Keyword: f.Keyword, Description: f.Description}
	}
	return render(ctx, "flow system", flowSystemPrompt, map[string]any{
		"Flows": opts,
	})
}
