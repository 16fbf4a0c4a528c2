package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
	"github.com/workplace-chat/orchestrator/pkg/retry"
)

var searchPaths = map[model.SourceType]string{
	model.SourcePost: "/api/posts/v4/posts/vector-search",
	model.SourcePage: "/api/pages/v4/pages/vector-search",
}

type vectorSearchRequest struct {
	Top           int        `json:"top"`
	Query         string     `json:"query"`
	UpdatedAtFrom *time.Time `json:"updated_at_from,omitempty"`
	UpdatedAtTo   *time.Time `json:"updated_at_to,omitempty"`
}

type vectorSearchMatch struct {
	PostID string `json:"post_id"`
	PageID string `json:"page_id"`
	Title  string `json:"title"`
	// Score is the cosine distance.
	Score          float64    `json:"score"`
	ChunkID        string     `json:"chunk_id"`
	Chunk          string     `json:"chunk"`
	Source         string     `json:"source"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
}

type vectorSearchResponse struct {
	Matches []vectorSearchMatch `json:"matches"`
}

// HTTPCorpus queries the core semantic search API for one source type.
type HTTPCorpus struct {
	client *http.Client
	url    string
	token  string
	retry  retry.Config
}

func NewHTTPCorpus(cfg model.SearchConfig, kind model.SourceType, retryCfg retry.Config) (*HTTPCorpus, error) {
	path, ok := searchPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", kind)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("search url is not configured")
	}
	return &HTTPCorpus{
		client: &http.Client{Timeout: cfg.Timeout},
		url:    strings.TrimSuffix(cfg.URL, "/") + path,
		token:  cfg.Token,
		retry:  retryCfg,
	}, nil
}

func (c *HTTPCorpus) Search(ctx context.Context, q Query) ([]Hit, error) {
	body := vectorSearchRequest{Top: q.TopN, Query: q.Text}
	if !q.Since.IsZero() {
		since := q.Since.UTC()
		body.UpdatedAtFrom = &since
	}
	if !q.Until.IsZero() {
		until := q.Until.UTC()
		body.UpdatedAtTo = &until
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	resp, err := retry.Do(ctx, c.retry, "semantic_search", func(ctx context.Context) (*vectorSearchResponse, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		hits = append(hits, m.toHit())
	}
	logx.Debug().Str("url", c.url).Int("hits", len(hits)).Msg("Semantic search finished")
	return hits, nil
}

func (c *HTTPCorpus) post(ctx context.Context, payload []byte) (*vectorSearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errx.TransientIOError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, errx.FromStatus(res.StatusCode, fmt.Errorf("semantic search returned %d: %s", res.StatusCode, bytes.TrimSpace(snippet)))
	}

	var out vectorSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}

func (m vectorSearchMatch) toHit() Hit {
	h := Hit{
		ChunkID:    m.ChunkID,
		DocumentID: m.PostID,
		Title:      m.Title,
		Source:     m.Source,
		Content:    m.Chunk,
		Similarity: math.Round((1-m.Score)*1e7) / 1e7,
	}
	if h.DocumentID == "" {
		h.DocumentID = m.PageID
	}
	if m.LastModifiedAt != nil {
		h.LastModified = *m.LastModifiedAt
	}
	return h
}
