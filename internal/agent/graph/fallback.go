package graph

import (
	"context"
	"errors"

	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// RefusalRecorder is implemented by states that keep a content-policy reason.
type RefusalRecorder interface {
	SetRefusalReason(reason string)
}

type policyGuard[S RefusalRecorder, D any] struct {
	inner    Step[S, D]
	fallback Step[S, D]
}

// WithContentPolicyFallback decorates inner so that a content-filtered failure
// stores the user-safe reason on state and continues with fallback. Other
// errors are returned unchanged. The fallback is not decorated: a second
// policy failure surfaces as a plain error.
func WithContentPolicyFallback[S RefusalRecorder, D any](inner, fallback Step[S, D]) Step[S, D] {
	return &policyGuard[S, D]{inner: inner, fallback: fallback}
}

func (g *policyGuard[S, D]) Name() string { return StepName(g.inner) }

func (g *policyGuard[S, D]) Execute(ctx context.Context, state S, deps D) (Step[S, D], error) {
	next, err := g.inner.Execute(ctx, state, deps)
	if err == nil {
		return next, nil
	}

	var cf *errx.ContentFilteredError
	if !errors.As(err, &cf) {
		return nil, err
	}

	reason := cf.Reason()
	logx.Warn().
		Str("step", StepName(g.inner)).
		Str("fallback", StepName(g.fallback)).
		Str("reason", reason).
		Msg("Content policy triggered, switching to fallback")
	state.SetRefusalReason(reason)
	return g.fallback, nil
}
