// Package graph drives agent steps over a shared conversation state.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const tracerName = "github.com/workplace-chat/orchestrator/internal/agent/graph"

// DefaultMaxSteps bounds a run whose steps never reach End.
const DefaultMaxSteps = 64

var (
	ErrNilStep          = errors.New("graph: nil step")
	ErrMaxStepsExceeded = errors.New("graph: maximum number of steps exceeded")
)

// Step is one node of an agent graph. Execute mutates state and returns the
// step to run next, or End to finish.
type Step[S, D any] interface {
	Execute(ctx context.Context, state S, deps D) (Step[S, D], error)
}

// Named lets a step choose the name used for its span and logs.
type Named interface {
	Name() string
}

type end[S, D any] struct{}

func (end[S, D]) Name() string { return "End" }

func (end[S, D]) Execute(context.Context, S, D) (Step[S, D], error) {
	return nil, errors.New("graph: End executed")
}

// End is the terminal step.
func End[S, D any]() Step[S, D] {
	return end[S, D]{}
}

// IsEnd reports whether step is the terminal step.
func IsEnd[S, D any](step Step[S, D]) bool {
	_, ok := step.(end[S, D])
	return ok
}

type funcStep[S, D any] struct {
	name string
	fn   func(ctx context.Context, state S, deps D) (Step[S, D], error)
}

func (f funcStep[S, D]) Name() string { return f.name }

func (f funcStep[S, D]) Execute(ctx context.Context, state S, deps D) (Step[S, D], error) {
	return f.fn(ctx, state, deps)
}

// Func adapts a function to a named Step.
func Func[S, D any](name string, fn func(ctx context.Context, state S, deps D) (Step[S, D], error)) Step[S, D] {
	return funcStep[S, D]{name: name, fn: fn}
}

// StepName returns the Named name of step, or its bare type name.
func StepName(step any) string {
	if n, ok := step.(Named); ok {
		return n.Name()
	}
	s := fmt.Sprintf("%T", step)
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "*")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

type options struct {
	maxSteps int
}

// Option configures Run.
type Option func(*options)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// Run executes steps sequentially from start until End. The context is
// checked before every step; the first step error ends the run.
func Run[S, D any](ctx context.Context, start Step[S, D], state S, deps D, opts ...Option) (S, error) {
	o := options{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}

	if start == nil {
		return state, ErrNilStep
	}

	step := start
	for n := 0; ; n++ {
		if IsEnd(step) {
			return state, nil
		}
		if n >= o.maxSteps {
			return state, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, o.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		next, err := runStep(ctx, step, state, deps)
		if err != nil {
			return state, err
		}
		if next == nil {
			return state, fmt.Errorf("%w returned by %s", ErrNilStep, StepName(step))
		}
		step = next
	}
}

func runStep[S, D any](ctx context.Context, step Step[S, D], state S, deps D) (next Step[S, D], err error) {
	name := StepName(step)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "step."+name)
	span.SetAttributes(attribute.String("graph.step", name))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("step %s panicked: %v", name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	logx.Debug().Str("step", name).Msg("Executing step")
	next, err = step.Execute(ctx, state, deps)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return next, nil
}
