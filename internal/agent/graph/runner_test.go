package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
)

type testState struct {
	trail   []string
	refusal string
}

func (s *testState) SetRefusalReason(reason string) { s.refusal = reason }

type testDeps struct{}

type step = Step[*testState, testDeps]

func visit(name string, next func() step) step {
	return Func(name, func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		s.trail = append(s.trail, name)
		return next(), nil
	})
}

func fail(name string, err error) step {
	return Func(name, func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		s.trail = append(s.trail, name)
		return nil, err
	})
}

func endStep() step { return End[*testState, testDeps]() }

type counter struct{ n int }

func (c *counter) Execute(ctx context.Context, s *testState, _ testDeps) (step, error) {
	c.n++
	s.trail = append(s.trail, "count")
	if c.n == 3 {
		return endStep(), nil
	}
	return c, nil
}

func TestRunFollowsStepsUntilEnd(t *testing.T) {
	c := visit("c", endStep)
	b := visit("b", func() step { return c })
	a := visit("a", func() step { return b })

	got, err := Run(context.Background(), a, &testState{}, testDeps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.trail)
}

func TestRunLoopsOnSelfReturningStep(t *testing.T) {
	got, err := Run[*testState, testDeps](context.Background(), &counter{}, &testState{}, testDeps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "count", "count"}, got.trail)
}

func TestRunPropagatesStepError(t *testing.T) {
	boom := errors.New("boom")
	a := visit("a", func() step { return fail("b", boom) })

	got, err := Run(context.Background(), a, &testState{}, testDeps{})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b:")
	assert.Equal(t, []string{"a", "b"}, got.trail)
}

func TestRunRejectsNilSteps(t *testing.T) {
	_, err := Run[*testState, testDeps](context.Background(), nil, &testState{}, testDeps{})
	assert.ErrorIs(t, err, ErrNilStep)

	a := visit("a", func() step { return nil })
	_, err = Run(context.Background(), a, &testState{}, testDeps{})
	assert.ErrorIs(t, err, ErrNilStep)
}

func TestRunChecksContextBeforeEachStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := visit("b", endStep)
	a := Func("a", func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		s.trail = append(s.trail, "a")
		cancel()
		return b, nil
	})

	got, err := Run(ctx, a, &testState{}, testDeps{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, got.trail)
}

func TestRunStopsAtMaxSteps(t *testing.T) {
	var loop step
	loop = Func("loop", func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		s.trail = append(s.trail, "loop")
		return loop, nil
	})

	got, err := Run(context.Background(), loop, &testState{}, testDeps{}, WithMaxSteps(5))
	assert.ErrorIs(t, err, ErrMaxStepsExceeded)
	assert.Len(t, got.trail, 5)
}

func TestRunRecoversStepPanic(t *testing.T) {
	p := Func("explode", func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		panic("kaboom")
	})

	_, err := Run(context.Background(), p, &testState{}, testDeps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStepName(t *testing.T) {
	assert.Equal(t, "a", StepName(visit("a", endStep)))
	assert.Equal(t, "counter", StepName(&counter{}))
	assert.Equal(t, "End", StepName(endStep()))
}

func TestContentPolicyFallback(t *testing.T) {
	filtered := &errx.ContentFilteredError{Categories: []string{"hate (severity: high)", "violence (severity: medium)"}}
	fallback := visit("refuse", endStep)
	guarded := WithContentPolicyFallback(fail("answer", filtered), fallback)

	got, err := Run(context.Background(), guarded, &testState{}, testDeps{})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer", "refuse"}, got.trail)
	assert.Equal(t, "Content blocked by safety filters: hate (severity: high), violence (severity: medium)", got.refusal)
	assert.Equal(t, "answer", StepName(guarded))
}

func TestContentPolicyFallbackUsesProviderMessage(t *testing.T) {
	filtered := &errx.ContentFilteredError{Message: "Prompt was blocked"}
	guarded := WithContentPolicyFallback(fail("answer", filtered), visit("refuse", endStep))

	got, err := Run(context.Background(), guarded, &testState{}, testDeps{})
	require.NoError(t, err)
	assert.Equal(t, "Prompt was blocked", got.refusal)
}

func TestContentPolicyFallbackIsNotReentrant(t *testing.T) {
	filtered := &errx.ContentFilteredError{Categories: []string{"sexual (severity: high)"}}
	guarded := WithContentPolicyFallback(fail("answer", filtered), fail("refuse", filtered))

	got, err := Run(context.Background(), guarded, &testState{}, testDeps{})
	assert.Equal(t, errx.KindContentFiltered, errx.Classify(err))
	assert.Equal(t, []string{"answer", "refuse"}, got.trail)
}

func TestContentPolicyFallbackReraisesOtherErrors(t *testing.T) {
	boom := &errx.TransientIOError{Status: 503}
	guarded := WithContentPolicyFallback(fail("answer", boom), visit("refuse", endStep))

	got, err := Run(context.Background(), guarded, &testState{}, testDeps{})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, got.refusal)
	assert.Equal(t, []string{"answer"}, got.trail)
}

func drain(bus *stream.Bus) []string {
	var out []string
	for {
		rec, ok := bus.Next(context.Background())
		if !ok {
			return out
		}
		out = append(out, string(rec))
	}
}

func TestRunWithStreamClosesBusOnSuccess(t *testing.T) {
	bus := stream.NewBus(false)
	a := visit("a", endStep)

	_, err := RunWithStream(context.Background(), bus, a, &testState{}, testDeps{})
	require.NoError(t, err)
	assert.True(t, bus.Closed())
	assert.Empty(t, drain(bus))
}

func TestRunWithStreamEmitsGenericErrorAndCloses(t *testing.T) {
	bus := stream.NewBus(false)
	secret := errors.New("db password leaked in message")

	_, err := RunWithStream(context.Background(), bus, fail("a", secret), &testState{}, testDeps{})
	assert.ErrorIs(t, err, secret)
	assert.True(t, bus.Closed())

	records := drain(bus)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"event":"error","error":"An error occurred while processing your request."}`, records[0])
}

func TestRunWithStreamCancelledLeavesBusClosed(t *testing.T) {
	bus := stream.NewBus(false)
	ctx, cancel := context.WithCancel(context.Background())

	consumed := make(chan []string)
	go func() { consumed <- drain(bus) }()

	var loop step
	loop = Func("loop", func(ctx context.Context, s *testState, _ testDeps) (step, error) {
		bus.Emit(stream.AnswerEvent{Answer: "partial"})
		cancel()
		return loop, nil
	})

	_, err := RunWithStream(ctx, bus, loop, &testState{}, testDeps{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, bus.Closed())

	records := <-consumed
	require.Len(t, records, 2)
	assert.Contains(t, records[0], `"answer"`)
	assert.Contains(t, records[1], `"error"`)
}
