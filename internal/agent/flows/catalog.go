// Package flows is the flow sub-agent: it matches a task against the
// conversational flows of a tenant and asks the client to start one.
package flows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
	"github.com/workplace-chat/orchestrator/pkg/retry"
)

// Catalog lists the flows of a tenant in a stable order.
type Catalog interface {
	List(ctx context.Context, tenant string) ([]model.Flow, error)
}

// StaticCatalog serves a fixed list to every tenant.
type StaticCatalog []model.Flow

func (c StaticCatalog) List(context.Context, string) ([]model.Flow, error) {
	return c, nil
}

type flowsResponse struct {
	Flows []model.Flow `json:"flip_flows"`
}

// HTTPCatalog loads flows from the core API.
type HTTPCatalog struct {
	client *http.Client
	base   string
	retry  retry.Config
}

func NewHTTPCatalog(cfg model.FlowConfig, retryCfg retry.Config) (*HTTPCatalog, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("flows api url is not configured")
	}
	return &HTTPCatalog{
		client: &http.Client{Timeout: cfg.Timeout},
		base:   strings.TrimSuffix(cfg.URL, "/"),
		retry:  retryCfg,
	}, nil
}

func (c *HTTPCatalog) url(tenant string) string {
	return fmt.Sprintf("%s/internal/ask-ai/tenant/%s/flip-flows", c.base, url.PathEscape(tenant))
}

func (c *HTTPCatalog) List(ctx context.Context, tenant string) ([]model.Flow, error) {
	resp, err := retry.Do(ctx, c.retry, "list_flows", func(ctx context.Context) (*flowsResponse, error) {
		return c.get(ctx, c.url(tenant))
	})
	if err != nil {
		return nil, err
	}
	logx.Debug().Str("tenant", tenant).Int("flows", len(resp.Flows)).Msg("Flows loaded")
	return resp.Flows, nil
}

func (c *HTTPCatalog) get(ctx context.Context, target string) (*flowsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

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
		return nil, errx.FromStatus(res.StatusCode, fmt.Errorf("flows api returned %d: %s", res.StatusCode, bytes.TrimSpace(snippet)))
	}

	var out flowsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode flows response: %w", err)
	}
	return &out, nil
}
