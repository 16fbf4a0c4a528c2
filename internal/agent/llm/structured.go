package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	errx "github.com/workplace-chat/orchestrator/internal/core/error"
)

// GenerateJSON asks for a JSON object reply and decodes it into T. The
// response is returned even when decoding fails so usage can be recorded.
func GenerateJSON[T any](ctx context.Context, g Gateway, req Request) (T, *Response, error) {
	var zero T
	req.JSON = true

	resp, err := g.Generate(ctx, req)
	if err != nil {
		return zero, nil, err
	}
	out, err := ParseJSON[T](ctx, resp.Message)
	if err != nil {
		return zero, resp, err
	}
	return out, resp, nil
}

// ParseJSON decodes the content of msg into T, tolerating markdown code fences.
func ParseJSON[T any](ctx context.Context, msg *schema.Message) (T, error) {
	var zero T
	if msg == nil {
		return zero, fmt.Errorf("%w: empty reply", errx.ErrMalformedOutput)
	}

	cleaned := &schema.Message{Role: msg.Role, Content: StripCodeFence(msg.Content)}
	parser := schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})
	out, err := parser.Parse(ctx, cleaned)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", errx.ErrMalformedOutput, err)
	}
	return out, nil
}

// StripCodeFence removes a surrounding ```json fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
