package prompts

import (
	"context"
	_ "embed"
)

//go:embed template/context_filter.txt
var contextFilterPrompt string

type indexedContext struct {
	Index int
	Text  string
}

// RenderContextFilter renders the used-context judgement over one batch.
func RenderContextFilter(ctx context.Context, answer string, contexts []string) (string, error) {
	items := make([]indexedContext, len(contexts))
	for i, c := range contexts {
		items[i] = indexedContext{Index: i + 1, Text: c}
	}
	return render(ctx, "context filter", contextFilterPrompt, map[string]any{
		"Answer":   answer,
		"Contexts": items,
		"Count":    len(items),
	})
}
