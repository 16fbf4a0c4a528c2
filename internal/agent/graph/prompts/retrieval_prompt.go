package prompts

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

//go:embed template/retrieval_system.txt
var retrievalSystemPrompt string

//go:embed template/rerank.txt
var rerankPrompt string

//go:embed template/evaluate.txt
var evaluatePrompt string

// RenderRetrievalSystem renders the retrieval agent prompt.
func RenderRetrievalSystem(ctx context.Context, company Company, task, postsTool, pagesTool string) (string, error) {
	return render(ctx, "retrieval system", retrievalSystemPrompt, map[string]any{
		"CompanyDescription": company.Description,
		"ResearchTask":       task,
		"PostsTool":          postsTool,
		"PagesTool":          pagesTool,
		"DateTimeTool":       tools.ToolCurrentDateTime,
	})
}

type rerankDocument struct {
	Index        int
	Title        string
	Source       string
	LastModified string
	Score        string
	Content      string
}

// RerankInput is one listwise rerank batch.
type RerankInput struct {
	Company     Company
	Task        string
	SearchQuery string
	Documents   []model.Evidence
	Now         time.Time
}

// RenderRerank renders the listwise rerank prompt over in.Documents.
func RenderRerank(ctx context.Context, in RerankInput) (string, error) {
	docs := make([]rerankDocument, len(in.Documents))
	for i, d := range in.Documents {
		docs[i] = rerankDocument{
			Index:        i + 1,
			Title:        orDefault(d.Title, "No title"),
			Source:       orDefault(d.Source, "Unknown"),
			LastModified: "Unknown",
			Score:        strconv.FormatFloat(d.Similarity, 'f', 3, 64),
			Content:      d.Content,
		}
		if !d.LastEdited.IsZero() {
			docs[i].LastModified = d.LastEdited.UTC().Format(time.DateTime)
		}
	}

	return render(ctx, "rerank", rerankPrompt, map[string]any{
		"CompanyDescription": in.Company.Description,
		"ResearchTask":       in.Task,
		"SearchQuery":        in.SearchQuery,
		"DateTime":           in.Now.Format(DateTimeLayout),
		"Documents":          docs,
		"Count":              len(docs),
	})
}

// RenderEvaluate renders the sufficiency evaluation prompt.
func RenderEvaluate(ctx context.Context, task, documents string, now time.Time) (string, error) {
	return render(ctx, "evaluate", evaluatePrompt, map[string]any{
		"ResearchTask": task,
		"Documents":    documents,
		"DateTime":     now.Format(DateTimeLayout),
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
