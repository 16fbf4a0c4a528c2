package prompts

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
)

//go:embed template/post_system.txt
var postSystemPrompt string

//go:embed template/post_answer.txt
var postAnswerPrompt string

//go:embed template/post_refused.txt
var postRefusedPrompt string

// PostSystemInput collects what the post drafting prompt needs.
type PostSystemInput struct {
	Company     Company
	AllowedTags []string
	References  []string
	Examples    []Example
	GetPostTool string
	SetPostTool string
}

// RenderPostSystem renders the post drafting agent prompt.
func RenderPostSystem(ctx context.Context, in PostSystemInput) (string, error) {
	examples := make([]indexedExample, len(in.Examples))
	for i, ex := range in.Examples {
		examples[i] = indexedExample{Example: ex, Index: i + 1}
	}
	tags := "any"
	if len(in.AllowedTags) > 0 {
		tags = "<" + strings.Join(in.AllowedTags, ">, <") + ">"
	}

	return render(ctx, "post system", postSystemPrompt, map[string]any{
		"CompanyName":        in.Company.Name,
		"CompanyDescription": in.Company.Description,
		"AllowedTags":        tags,
		"References":         in.References,
		"Examples":           examples,
		"GetPostTool":        in.GetPostTool,
		"SetPostTool":        in.SetPostTool,
		"DateTimeTool":       tools.ToolCurrentDateTime,
	})
}

// RenderPostRefused renders the prompt explaining a refused post request.
func RenderPostRefused(ctx context.Context, company Company, reason string, now time.Time) (string, error) {
	return render(ctx, "post refused", postRefusedPrompt, map[string]any{
		"AvoidTopics":        company.AvoidTopics,
		"ResponseGuidelines": company.ResponseGuidelines,
		"RefusalReason":      reason,
		"DateTime":           now.UTC().Format(time.RFC3339),
	})
}

// PostAnswer is the instruction that turns the drafting conversation into a
// short reply to the user.
func PostAnswer() string {
	return postAnswerPrompt
}
