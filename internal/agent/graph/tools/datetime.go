package tools

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/llm"
)

const ToolCurrentDateTime = "get_current_date_time"

// DateTimeSpec describes the current date/time tool.
var DateTimeSpec = llm.ToolSpec{
	Name:   ToolCurrentDateTime,
	Desc:   "Return the current date and time. Call it before using relative time ranges such as 'last week'.",
	Params: map[string]*schema.ParameterInfo{},
}

type dateTimeInput struct{}

// FormatDateTime renders now the way the tool reports it.
func FormatDateTime(now time.Time) string {
	return "Today's date is " + now.Format("Monday, January 02, 2006") +
		" and the current time is " + now.Format("03:04:05 PM")
}

// NewDateTime builds the date/time tool. now is fixed per request so every
// agent of one turn sees the same instant.
func NewDateTime(now func() time.Time) tool.InvokableTool {
	if now == nil {
		now = time.Now
	}
	return New(DateTimeSpec, func(ctx context.Context, _ *dateTimeInput) (string, error) {
		return FormatDateTime(now()), nil
	})
}
