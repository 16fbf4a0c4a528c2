// Package parsers validates structured model output.
package parsers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const maxErrSnippet = 200

// Indexed is one entry of a listwise answer, addressed by its 1-based index.
type Indexed interface {
	Position() int
}

// DocumentRanking scores one reranked document.
type DocumentRanking struct {
	Index             int `json:"index"`
	ContentRelevance  int `json:"content_relevance"`
	MetadataRelevance int `json:"metadata_relevance"`
}

func (d DocumentRanking) Position() int { return d.Index }

type ListwiseRanking struct {
	RankedDocuments []DocumentRanking `json:"ranked_documents"`
}

// ContextUsage tells whether one context contributed to an answer.
type ContextUsage struct {
	Index int  `json:"index"`
	Used  bool `json:"context_was_used"`
}

func (c ContextUsage) Position() int { return c.Index }

type ListwiseContextUsage struct {
	UsedContexts []ContextUsage `json:"used_contexts"`
}

// ValidateListwise checks that items name every index 1..expected exactly once.
func ValidateListwise[T Indexed](items []T, expected int, itemType string) error {
	if len(items) != expected {
		return mismatch(itemType, "Expected %d %ss, got %d. Please provide exactly %d %ss.",
			expected, itemType, len(items), expected, itemType)
	}

	actual := make(map[int]int, len(items))
	for _, it := range items {
		actual[it.Position()]++
	}

	var missing, invalid, duplicate []int
	for i := 1; i <= expected; i++ {
		if actual[i] == 0 {
			missing = append(missing, i)
		}
	}
	for idx, n := range actual {
		if idx < 1 || idx > expected {
			invalid = append(invalid, idx)
		}
		if n > 1 {
			duplicate = append(duplicate, idx)
		}
	}

	switch {
	case len(missing) > 0:
		return mismatch(itemType, "Missing %s indices: %s. Please include %ss for all indices 1 to %d.",
			itemType, formatIndices(missing), itemType, expected)
	case len(invalid) > 0:
		return mismatch(itemType, "Invalid %s indices: %s. Valid indices are 1 to %d.",
			itemType, formatIndices(invalid), expected)
	case len(duplicate) > 0:
		return mismatch(itemType, "Duplicate %s indices found: %s. Each %s index must appear exactly once.",
			itemType, formatIndices(duplicate), itemType)
	}
	return nil
}

func mismatch(itemType, format string, args ...any) error {
	return &errx.ValidationMismatchError{ItemType: itemType, Detail: fmt.Sprintf(format, args...)}
}

func formatIndices(idx []int) string {
	slices.Sort(idx)
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ListwiseRequest describes one listwise call over Expected inputs.
type ListwiseRequest[R any, T Indexed] struct {
	Request  llm.Request
	Expected int
	ItemType string
	// Retries is the number of corrective attempts after the first call.
	Retries int
	// Items extracts the indexed entries from the decoded reply.
	Items func(R) []T
	// OnResponse sees every completed call, valid or not.
	OnResponse func(*llm.Response)
}

// GenerateListwise calls the model and validates the listwise reply. An
// invalid reply is answered with a corrective instruction and retried up to
// Retries times; the last validation error is returned when they run out.
func GenerateListwise[R any, T Indexed](ctx context.Context, g llm.Gateway, lr ListwiseRequest[R, T]) ([]T, error) {
	req := lr.Request
	req.Messages = slices.Clone(req.Messages)

	var lastErr error
	for attempt := 0; attempt <= max(lr.Retries, 0); attempt++ {
		out, resp, err := llm.GenerateJSON[R](ctx, g, req)
		if resp != nil && lr.OnResponse != nil {
			lr.OnResponse(resp)
		}

		var correction string
		switch {
		case errors.Is(err, errx.ErrMalformedOutput):
			correction = fmt.Sprintf("Your reply could not be parsed as JSON (%v). Respond with a single valid JSON object.", err)
		case err != nil:
			return nil, err
		default:
			items := lr.Items(out)
			verr := ValidateListwise(items, lr.Expected, lr.ItemType)
			if verr == nil {
				return items, nil
			}
			err = verr
			correction = verr.Error()
		}

		lastErr = err
		reply := ""
		if resp != nil && resp.Message != nil {
			reply = resp.Message.Content
		}
		logx.Warn().
			Str("component", "listwise_parser").
			Str("call", req.Name).
			Str("item_type", lr.ItemType).
			Int("attempt", attempt+1).
			Str("reply", safeSnippet(reply)).
			Str("detail", correction).
			Msg("Listwise output rejected")

		req.Messages = append(req.Messages,
			schema.AssistantMessage(reply, nil),
			schema.UserMessage(correction),
		)
	}

	if errx.Classify(lastErr) != errx.KindValidationMismatch {
		lastErr = &errx.ValidationMismatchError{ItemType: lr.ItemType, Detail: lastErr.Error()}
	}
	return nil, fmt.Errorf("%s listwise output rejected after %d attempts: %w", lr.ItemType, max(lr.Retries, 0)+1, lastErr)
}

func safeSnippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	cut := maxErrSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
