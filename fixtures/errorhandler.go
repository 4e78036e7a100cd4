package fixtures

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
	"github.com/sagabus/sagabus/saga"
)

// ErrorHandlerStub is a test implementation of saga.ErrorHandler.
type ErrorHandlerStub struct {
	OnPreparationErrorFunc func(ctx context.Context, sagaType string, p parcel.Parcel, attempt int, err error) saga.RetryPolicy
	OnInvocationErrorFunc  func(ctx context.Context, s saga.Saga, p parcel.Parcel, attempt int, err error) saga.RetryPolicy
}

// OnPreparationError is invoked when resolving or loading the sagas for an
// event fails.
func (h ErrorHandlerStub) OnPreparationError(
	ctx context.Context,
	sagaType string,
	p parcel.Parcel,
	attempt int,
	err error,
) saga.RetryPolicy {
	if h.OnPreparationErrorFunc != nil {
		return h.OnPreparationErrorFunc(ctx, sagaType, p, attempt, err)
	}

	return saga.RetryPolicy{}
}

// OnInvocationError is invoked when a saga fails to handle an event.
func (h ErrorHandlerStub) OnInvocationError(
	ctx context.Context,
	s saga.Saga,
	p parcel.Parcel,
	attempt int,
	err error,
) saga.RetryPolicy {
	if h.OnInvocationErrorFunc != nil {
		return h.OnInvocationErrorFunc(ctx, s, p, attempt, err)
	}

	return saga.RetryPolicy{}
}
