package saga

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/sagabus/sagabus/parcel"
)

// A RetryPolicy describes how a worker responds to a failure during the
// preparation or invocation phase.
type RetryPolicy struct {
	// Rollback indicates that the active unit of work must be rolled back.
	Rollback bool

	// Reschedule indicates that the failed phase must be restarted from
	// scratch with a fresh unit of work.
	Reschedule bool

	// Wait is the duration to wait before the phase is restarted.
	Wait time.Duration
}

// An ErrorHandler decides how a worker responds to failures while preparing
// or invoking sagas.
//
// There is no built-in retry ceiling; an ErrorHandler that always reschedules
// can stall its worker indefinitely. This is an intentional extension point.
type ErrorHandler interface {
	// OnPreparationError is invoked when resolving or loading the sagas for
	// an event fails.
	//
	// attempt is the number of preparation attempts made so far, starting
	// at 1.
	OnPreparationError(
		ctx context.Context,
		sagaType string,
		p parcel.Parcel,
		attempt int,
		err error,
	) RetryPolicy

	// OnInvocationError is invoked when a saga fails to handle an event.
	//
	// attempt is the number of invocation attempts made for this saga,
	// starting at 1.
	OnInvocationError(
		ctx context.Context,
		s Saga,
		p parcel.Parcel,
		attempt int,
		err error,
	) RetryPolicy
}

// RetryErrorHandler is an ErrorHandler that rolls back and retries after
// every failure, waiting according to a backoff strategy.
type RetryErrorHandler struct {
	// BackoffStrategy determines the wait before each retry. If it is nil,
	// backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for messages about the failures.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// OnPreparationError returns a policy that rolls back and restarts the
// preparation phase.
func (h RetryErrorHandler) OnPreparationError(
	_ context.Context,
	sagaType string,
	p parcel.Parcel,
	attempt int,
	err error,
) RetryPolicy {
	policy := h.policy(attempt, err)

	logging.Log(
		h.Logger,
		"error preparing '%s' sagas for event %s (attempt #%d), retrying in %s: %s",
		sagaType,
		p.ID(),
		attempt,
		policy.Wait,
		err,
	)

	return policy
}

// OnInvocationError returns a policy that rolls back and retries the saga's
// invocation.
func (h RetryErrorHandler) OnInvocationError(
	_ context.Context,
	s Saga,
	p parcel.Parcel,
	attempt int,
	err error,
) RetryPolicy {
	policy := h.policy(attempt, err)

	logging.Log(
		h.Logger,
		"error invoking saga %s with event %s (attempt #%d), retrying in %s: %s",
		s.ID(),
		p.ID(),
		attempt,
		policy.Wait,
		err,
	)

	return policy
}

func (h RetryErrorHandler) policy(attempt int, err error) RetryPolicy {
	s := h.BackoffStrategy
	if s == nil {
		s = backoff.DefaultStrategy
	}

	return RetryPolicy{
		Rollback:   true,
		Reschedule: true,
		Wait:       s(err, uint(attempt-1)),
	}
}

// ProceedErrorHandler is an ErrorHandler that logs each failure and proceeds
// without retrying, leaving the failed saga's state untouched.
type ProceedErrorHandler struct {
	// Logger is the target for messages about the skipped failures.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// OnPreparationError returns a policy that rolls back and proceeds with the
// sagas that were resolved successfully.
func (h ProceedErrorHandler) OnPreparationError(
	_ context.Context,
	sagaType string,
	p parcel.Parcel,
	attempt int,
	err error,
) RetryPolicy {
	logging.Log(
		h.Logger,
		"proceeding after error preparing '%s' sagas for event %s: %s",
		sagaType,
		p.ID(),
		err,
	)

	return RetryPolicy{Rollback: true}
}

// OnInvocationError returns a policy that skips the failed saga.
func (h ProceedErrorHandler) OnInvocationError(
	_ context.Context,
	s Saga,
	p parcel.Parcel,
	attempt int,
	err error,
) RetryPolicy {
	logging.Log(
		h.Logger,
		"proceeding after error invoking saga %s with event %s: %s",
		s.ID(),
		p.ID(),
		err,
	)

	return RetryPolicy{}
}
