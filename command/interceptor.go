package command

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
)

// A DispatchInterceptor is invoked for each command before it is routed to the
// connector.
//
// Interceptors run in registration order. Each may return a modified parcel,
// or an error to reject the dispatch entirely.
type DispatchInterceptor interface {
	// InterceptDispatch intercepts the command in p.
	InterceptDispatch(ctx context.Context, p parcel.Parcel) (parcel.Parcel, error)
}

// DispatchInterceptorFunc is an adaptor that allows an ordinary function to be
// used as a DispatchInterceptor.
type DispatchInterceptorFunc func(ctx context.Context, p parcel.Parcel) (parcel.Parcel, error)

// InterceptDispatch intercepts the command in p by calling fn(ctx, p).
func (fn DispatchInterceptorFunc) InterceptDispatch(
	ctx context.Context,
	p parcel.Parcel,
) (parcel.Parcel, error) {
	return fn(ctx, p)
}
