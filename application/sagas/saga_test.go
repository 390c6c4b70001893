package sagas

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	calls []string
}

func (t *trace) record(name string) func(context.Context, *trace) error {
	return func(context.Context, *trace) error {
		t.calls = append(t.calls, name)
		return nil
	}
}

func TestSaga_CompletesAllSteps(t *testing.T) {
	state := &trace{}
	saga := NewBuilder[trace]("ok", nil).
		WithCompensableStep("one", state.record("one"), state.record("undo-one")).
		WithStep("two", state.record("two")).
		Build()

	require.NoError(t, saga.Execute(context.Background(), state))
	assert.Equal(t, []string{"one", "two"}, state.calls)
	assert.Equal(t, SagaStateCompleted, saga.GetState())
}

func TestSaga_CompensatesCompletedStepsInReverse(t *testing.T) {
	state := &trace{}
	boom := errors.New("boom")
	saga := NewBuilder[trace]("fail", nil).
		WithCompensableStep("one", state.record("one"), state.record("undo-one")).
		WithCompensableStep("two", state.record("two"), state.record("undo-two")).
		WithCompensableStep("three", func(context.Context, *trace) error { return boom }, state.record("undo-three")).
		Build()

	err := saga.Execute(context.Background(), state)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"one", "two", "undo-two", "undo-one"}, state.calls)
	assert.Equal(t, SagaStateCompensated, saga.GetState())
	assert.Equal(t, 2, saga.GetCurrentStep())
}

func TestSaga_RetriesStep(t *testing.T) {
	attempts := 0
	saga := NewBuilder[trace]("retry", nil).
		WithRetryableStep("flaky", func(context.Context, *trace) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		}, 3, time.Millisecond).
		Build()

	require.NoError(t, saga.Execute(context.Background(), &trace{}))
	assert.Equal(t, 3, attempts)
}

func TestSaga_CompensatesAfterCancellation(t *testing.T) {
	state := &trace{}
	ctx, cancel := context.WithCancel(context.Background())
	saga := NewBuilder[trace]("cancel", nil).
		WithCompensableStep("one", state.record("one"), func(ctx context.Context, s *trace) error {
			s.calls = append(s.calls, "undo-one")
			return ctx.Err()
		}).
		WithStep("two", func(ctx context.Context, _ *trace) error {
			cancel()
			return ctx.Err()
		}).
		Build()

	err := saga.Execute(ctx, state)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"one", "undo-one"}, state.calls)
}
