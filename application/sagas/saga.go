package sagas

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step is a single step of a saga operating on shared state T
type Step[T any] struct {
	Name       string
	Execute    func(ctx context.Context, state *T) error
	Compensate func(ctx context.Context, state *T) error
	MaxRetries int
	RetryDelay time.Duration
}

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStatePending      SagaState = "PENDING"
	SagaStateRunning      SagaState = "RUNNING"
	SagaStateCompleted    SagaState = "COMPLETED"
	SagaStateFailed       SagaState = "FAILED"
	SagaStateCompensating SagaState = "COMPENSATING"
	SagaStateCompensated  SagaState = "COMPENSATED"
)

// Saga runs steps in order. When a step fails, the compensations of the steps
// that already completed run in reverse order.
type Saga[T any] struct {
	id          string
	name        string
	steps       []Step[T]
	state       SagaState
	currentStep int
	logger      *zap.Logger
}

// NewSaga creates a new saga instance
func NewSaga[T any](name string, logger *zap.Logger) *Saga[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saga[T]{
		id:     "saga_" + uuid.New().String(),
		name:   name,
		state:  SagaStatePending,
		logger: logger,
	}
}

// AddStep adds a step to the saga
func (s *Saga[T]) AddStep(step Step[T]) *Saga[T] {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the saga against state
func (s *Saga[T]) Execute(ctx context.Context, state *T) error {
	s.state = SagaStateRunning
	s.logger.Debug("Starting saga execution",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
		zap.Int("total_steps", len(s.steps)),
	)

	for i, step := range s.steps {
		s.currentStep = i

		if err := s.executeStepWithRetry(ctx, step, state); err != nil {
			s.state = SagaStateFailed
			s.logger.Warn("Saga step failed",
				zap.String("saga_id", s.id),
				zap.String("saga_name", s.name),
				zap.String("step_name", step.Name),
				zap.Error(err),
			)

			s.compensate(ctx, i, state)
			s.state = SagaStateCompensated
			return fmt.Errorf("saga %s failed at step %s: %w", s.name, step.Name, err)
		}
	}

	s.state = SagaStateCompleted
	s.logger.Debug("Saga completed successfully",
		zap.String("saga_id", s.id),
		zap.String("saga_name", s.name),
	)
	return nil
}

// executeStepWithRetry executes a step, retrying while ctx allows
func (s *Saga[T]) executeStepWithRetry(ctx context.Context, step Step[T], state *T) error {
	maxRetries := step.MaxRetries
	if maxRetries == 0 {
		maxRetries = 1
	}
	retryDelay := step.RetryDelay
	if retryDelay == 0 {
		retryDelay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("Retrying saga step",
				zap.String("saga_id", s.id),
				zap.String("step_name", step.Name),
				zap.Int("attempt", attempt+1),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		err := step.Execute(ctx, state)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if maxRetries == 1 {
		return lastErr
	}
	return fmt.Errorf("step %s failed after %d attempts: %w", step.Name, maxRetries, lastErr)
}

// compensate runs compensations of the first n steps in reverse order.
// Compensation runs on a context detached from cancellation so a cancelled
// caller still leaves no partial state behind.
func (s *Saga[T]) compensate(ctx context.Context, n int, state *T) {
	s.state = SagaStateCompensating
	ctx = context.WithoutCancel(ctx)

	for i := n - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, state); err != nil {
			s.logger.Error("Compensation failed",
				zap.String("saga_id", s.id),
				zap.String("step_name", step.Name),
				zap.Error(err),
			)
		}
	}
}

// GetState returns the current state of the saga
func (s *Saga[T]) GetState() SagaState {
	return s.state
}

// GetID returns the saga ID
func (s *Saga[T]) GetID() string {
	return s.id
}

// GetCurrentStep returns the current step index
func (s *Saga[T]) GetCurrentStep() int {
	return s.currentStep
}

// Builder provides a fluent interface for building sagas
type Builder[T any] struct {
	saga *Saga[T]
}

// NewBuilder creates a new saga builder
func NewBuilder[T any](name string, logger *zap.Logger) *Builder[T] {
	return &Builder[T]{saga: NewSaga[T](name, logger)}
}

// WithStep adds a step without compensation
func (b *Builder[T]) WithStep(name string, execute func(context.Context, *T) error) *Builder[T] {
	b.saga.AddStep(Step[T]{Name: name, Execute: execute})
	return b
}

// WithCompensableStep adds a step with compensation logic
func (b *Builder[T]) WithCompensableStep(
	name string,
	execute func(context.Context, *T) error,
	compensate func(context.Context, *T) error,
) *Builder[T] {
	b.saga.AddStep(Step[T]{Name: name, Execute: execute, Compensate: compensate})
	return b
}

// WithRetryableStep adds a step with retry logic
func (b *Builder[T]) WithRetryableStep(
	name string,
	execute func(context.Context, *T) error,
	maxRetries int,
	retryDelay time.Duration,
) *Builder[T] {
	b.saga.AddStep(Step[T]{Name: name, Execute: execute, MaxRetries: maxRetries, RetryDelay: retryDelay})
	return b
}

// Build returns the constructed saga
func (b *Builder[T]) Build() *Saga[T] {
	return b.saga
}
