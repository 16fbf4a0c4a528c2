package llm

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/workplace-chat/orchestrator/pkg/retry"
)

const tracerName = "github.com/workplace-chat/orchestrator/internal/agent/llm"

// Retrying wraps a gateway with the shared retry policy. Only opening a
// stream is retried; failures after the first chunk surface to the caller.
type Retrying struct {
	inner Gateway
	cfg   retry.Config
}

func NewRetrying(inner Gateway, cfg retry.Config) *Retrying {
	return &Retrying{inner: inner, cfg: cfg}
}

func (r *Retrying) Model() string { return r.inner.Model() }

func (r *Retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := r.start(ctx, "generate", req)
	defer span.End()

	resp, err := retry.Do(ctx, r.cfg, req.Name, func(ctx context.Context) (*Response, error) {
		return r.inner.Generate(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.Input),
		attribute.Int("llm.usage.output_tokens", resp.Usage.Output),
	)
	return resp, nil
}

// Stream spans only the opening of the stream.
func (r *Retrying) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	ctx, span := r.start(ctx, "stream", req)
	defer span.End()

	sr, err := retry.Do(ctx, r.cfg, req.Name, func(ctx context.Context) (*schema.StreamReader[*schema.Message], error) {
		return r.inner.Stream(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sr, nil
}

func (r *Retrying) start(ctx context.Context, op string, req Request) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.call", req.Name),
			attribute.String("llm.model", r.inner.Model()),
			attribute.Int("llm.tools", len(req.Tools)),
			attribute.Bool("llm.json", req.JSON),
		),
	)
}
