package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// RunWithStream runs the graph and reports a failure as one error event on
// bus. The bus is closed when the run returns, whatever the outcome.
func RunWithStream[S, D any](ctx context.Context, bus *stream.Bus, start Step[S, D], state S, deps D, opts ...Option) (result S, err error) {
	defer bus.Close()
	defer func() {
		if r := recover(); r != nil {
			result, err = state, fmt.Errorf("graph run panicked: %v", r)
			report(bus, err)
		}
	}()

	result, err = Run(ctx, start, state, deps, opts...)
	if err != nil {
		report(bus, err)
	}
	return result, err
}

func report(bus *stream.Bus, err error) {
	kind := errx.Classify(err)
	ev := logx.Error()
	if errors.Is(err, context.Canceled) {
		ev = logx.Info()
	}
	ev.Err(err).Str("kind", kind.String()).Msg("Graph run failed")
	bus.Emit(stream.ErrorEvent{Error: errx.UserMessage(err)})
}
