// Package prompts renders the system prompts of every agent through the eino
// prompt component so prompt callbacks fire for each render.
package prompts

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// DateTimeLayout is the timestamp format shown to models.
const DateTimeLayout = "01/02/2006, 15:04:05"

// Company is the tenant context injected into prompts.
type Company struct {
	Name               string
	Description        string
	AvoidTopics        string
	ResponseGuidelines string
}

// CompanyFrom reads the company section of the chat config.
func CompanyFrom(cfg model.ChatConfig) Company {
	return Company{
		Name:               cfg.CompanyName,
		Description:        cfg.CompanyDescription,
		AvoidTopics:        cfg.AvoidTopics,
		ResponseGuidelines: cfg.ResponseGuidelines,
	}
}

func render(ctx context.Context, name, tpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}
