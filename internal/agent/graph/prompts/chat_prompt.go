package prompts

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
)

//go:embed template/chat_system.txt
var chatSystemPrompt string

//go:embed template/refuse_question.txt
var refuseQuestionPrompt string

//go:embed template/detect_language.txt
var detectLanguagePrompt string

//go:embed template/answer_refused.txt
var answerRefusedPrompt string

// Example shows the chat model how a delegated tool is used.
type Example struct {
	Task         string
	Reason       string
	Conversation string
}

type indexedExample struct {
	Example
	Index int
}

// ChatSystemInput collects what the chat system prompt needs.
type ChatSystemInput struct {
	Company    Company
	Language   string
	References []string
	Examples   []Example
}

// RenderChatSystem renders the main chat agent prompt.
func RenderChatSystem(ctx context.Context, in ChatSystemInput) (string, error) {
	lang := strings.TrimSpace(in.Language)
	if lang == "" {
		lang = "English"
	}
	examples := make([]indexedExample, len(in.Examples))
	for i, ex := range in.Examples {
		examples[i] = indexedExample{Example: ex, Index: i + 1}
	}

	return render(ctx, "chat system", chatSystemPrompt, map[string]any{
		"CompanyName":        in.Company.Name,
		"CompanyDescription": in.Company.Description,
		"ResponseGuidelines": in.Company.ResponseGuidelines,
		"Language":           lang,
		"References":         in.References,
		"Examples":           examples,
		"DateTimeTool":       tools.ToolCurrentDateTime,
	})
}

// RenderRefuseQuestion renders the refusal check prompt.
func RenderRefuseQuestion(ctx context.Context, company Company, history []*schema.Message) (string, error) {
	return render(ctx, "refuse question", refuseQuestionPrompt, map[string]any{
		"CompanyDescription": company.Description,
		"AvoidTopics":        company.AvoidTopics,
		"ChatHistory":        ChatHistory(history),
	})
}

// RenderDetectLanguage renders the language detection prompt.
func RenderDetectLanguage(ctx context.Context, history []*schema.Message) (string, error) {
	return render(ctx, "detect language", detectLanguagePrompt, map[string]any{
		"ChatHistory": ChatHistory(history),
	})
}

// RenderAnswerRefused renders the prompt of the refusal answer.
func RenderAnswerRefused(ctx context.Context, company Company, language, reason string, now time.Time) (string, error) {
	if language == "" {
		language = "English"
	}
	return render(ctx, "answer refused", answerRefusedPrompt, map[string]any{
		"AvoidTopics":        company.AvoidTopics,
		"ResponseGuidelines": company.ResponseGuidelines,
		"Language":           language,
		"RefusalReason":      reason,
		"DateTime":           now.UTC().Format(time.RFC3339),
	})
}

// ChatHistory renders user and assistant turns as "role: content" lines.
// Tool traffic and empty turns are skipped.
func ChatHistory(history []*schema.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case schema.User, schema.Assistant:
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
