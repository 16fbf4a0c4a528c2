package llm

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// EnsureToolCallIDs assigns an id to every tool call the provider left
// without one. Gemini does not return call ids.
func EnsureToolCallIDs(msg *schema.Message) {
	if msg == nil {
		return
	}
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}
}
