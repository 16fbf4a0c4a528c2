package prompts

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

var company = Company{
	Name:               "Acme",
	Description:        "Acme builds rockets.",
	AvoidTopics:        "- salaries",
	ResponseGuidelines: "- Be brief.",
}

func TestRenderChatSystem(t *testing.T) {
	out, err := RenderChatSystem(context.Background(), ChatSystemInput{
		Company:    company,
		References: []string{"- **call_retrieval_agent**: company knowledge"},
		Examples: []Example{
			{Task: "Find the holiday policy", Reason: "Policy lives in pages", Conversation: "User: ..."},
			{Task: "Find designers", Reason: "People questions", Conversation: "User: ..."},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "assistant for Acme")
	assert.Contains(t, out, "Acme builds rockets.")
	assert.Contains(t, out, "- **call_retrieval_agent**: company knowledge")
	assert.Contains(t, out, "get_current_date_time")
	assert.Contains(t, out, "Respond in English.")
	assert.Contains(t, out, "## Example 1: Find the holiday policy")
	assert.Contains(t, out, "## Example 2: Find designers")
}

func TestRenderChatSystemWithoutExamples(t *testing.T) {
	out, err := RenderChatSystem(context.Background(), ChatSystemInput{Company: company, Language: "German"})
	require.NoError(t, err)
	assert.NotContains(t, out, "# Examples")
	assert.Contains(t, out, "Respond in German.")
}

func TestRenderValidationPrompts(t *testing.T) {
	history := []*schema.Message{
		schema.UserMessage("How do I book leave?"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "1"}}),
		schema.ToolMessage("tool output", "1"),
		schema.AssistantMessage("Use the HR portal.", nil),
		schema.UserMessage("Und auf Deutsch?"),
	}

	refuse, err := RenderRefuseQuestion(context.Background(), company, history)
	require.NoError(t, err)
	assert.Contains(t, refuse, "- salaries")
	assert.Contains(t, refuse, "user: How do I book leave?\nassistant: Use the HR portal.\nuser: Und auf Deutsch?")
	assert.NotContains(t, refuse, "tool output")

	lang, err := RenderDetectLanguage(context.Background(), history)
	require.NoError(t, err)
	assert.Contains(t, lang, "user: Und auf Deutsch?")
}

func TestRenderAnswerRefused(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	out, err := RenderAnswerRefused(context.Background(), company, "", "Content blocked by safety filters: hate (severity: high)", now)
	require.NoError(t, err)
	assert.Contains(t, out, "Refusal reason: Content blocked by safety filters: hate (severity: high)")
	assert.Contains(t, out, "Respond in English.")
	assert.Contains(t, out, "2025-05-01T12:00:00Z")
}

func TestRenderRetrievalPrompts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)

	sys, err := RenderRetrievalSystem(ctx, company, "holiday policy", "search_posts", "search_pages")
	require.NoError(t, err)
	assert.Contains(t, sys, "holiday policy")
	assert.Contains(t, sys, "search_posts")
	assert.Contains(t, sys, "search_pages")

	rerank, err := RenderRerank(ctx, RerankInput{
		Company:     company,
		Task:        "holiday policy",
		SearchQuery: "vacation days",
		Now:         now,
		Documents: []model.Evidence{
			{Title: "Holidays", Source: "https://intranet/h", Similarity: 0.8123, Content: "25 days", LastEdited: now},
			{Content: "untitled"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, rerank, "exactly 2 entries with indices [1] to [2]")
	assert.Contains(t, rerank, "**Document [1]:**\nTitle: Holidays\nSource: https://intranet/h\nLast Modified: 2025-05-01 08:30:00\nRetriever Score: 0.812")
	assert.Contains(t, rerank, "**Document [2]:**\nTitle: No title\nSource: Unknown\nLast Modified: Unknown")
	assert.Contains(t, rerank, `"vacation days"`)
	assert.Contains(t, rerank, "05/01/2025, 08:30:00")

	eval, err := RenderEvaluate(ctx, "holiday policy", "Title: Holidays", now)
	require.NoError(t, err)
	assert.Contains(t, eval, "Title: Holidays")
	assert.Contains(t, eval, "sufficiency_score")
}

func TestRenderContextFilter(t *testing.T) {
	out, err := RenderContextFilter(context.Background(), "You get 25 days.", []string{"ctx one", "ctx two", "ctx three"})
	require.NoError(t, err)
	assert.Contains(t, out, "You get 25 days.")
	assert.Contains(t, out, "**Context [3]:**\nctx three")
	assert.Contains(t, out, "indices [1] to [3]")
}

func TestRenderSubAgentPrompts(t *testing.T) {
	ctx := context.Background()

	users, err := RenderUserSearchSystem(ctx, company, "find designers", "search_users", 100)
	require.NoError(t, err)
	assert.Contains(t, users, "find designers")
	assert.Contains(t, users, "**search_users**")
	assert.Contains(t, users, "At most 100 users")

	triggers, err := RenderTriggerSystem(ctx, []model.Trigger{
		{Name: "Vacation", Description: "Start a vacation request"},
		{Name: "Sick note", Description: "Report sick leave"},
	})
	require.NoError(t, err)
	assert.Contains(t, triggers, "- **[1] Vacation**: Start a vacation request")
	assert.Contains(t, triggers, "- **[2] Sick note**: Report sick leave")

	empty, err := RenderTriggerSystem(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, empty, "No triggers are currently configured.")
}

func TestRenderFlowSystem(t *testing.T) {
	ctx := context.Background()

	flows, err := RenderFlowSystem(ctx, []model.Flow{
		{Name: "IT Support", Keyword: "it", Description: "Report a broken device"},
	})
	require.NoError(t, err)
	assert.Contains(t, flows, "- **[1] IT Support** (it): Report a broken device")
	assert.Contains(t, flows, `"No flows applicable."`)

	empty, err := RenderFlowSystem(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, empty, "No flows are currently configured.")
}

func TestRenderPostPrompts(t *testing.T) {
	ctx := context.Background()

	system, err := RenderPostSystem(ctx, PostSystemInput{
		Company:     company,
		AllowedTags: []string{"p", "ul"},
		References:  []string{"# Retrieval\nSearch the knowledge base."},
		Examples:    []Example{{Task: "Draft a safety post", Reason: "needs facts", Conversation: "user: ..."}},
		GetPostTool: "get_post",
		SetPostTool: "set_post_title_and_body",
	})
	require.NoError(t, err)
	assert.Contains(t, system, "Acme builds rockets.")
	assert.Contains(t, system, "Allowed HTML tags: <p>, <ul>")
	assert.Contains(t, system, "call `get_post`")
	assert.Contains(t, system, "**set_post_title_and_body**")
	assert.Contains(t, system, "Search the knowledge base.")
	assert.Contains(t, system, "## Example 1: Draft a safety post")

	refused, err := RenderPostRefused(ctx, company, "violence", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, refused, "Refusal reason: violence")
	assert.Contains(t, refused, "- salaries")
	assert.Contains(t, refused, "2025-06-01T12:00:00Z")

	assert.Contains(t, PostAnswer(), "post that was created or updated")
}
