package command

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
)

// A Callback is notified of the asynchronous outcome of a dispatched command.
//
// reply contains the result produced by the remote handler, if any. The
// callback is invoked at most once per dispatched command.
type Callback func(reply parcel.Parcel, err error)

// A Handler executes commands that have been routed to this cluster member.
type Handler interface {
	// HandleCommand executes the command in p and returns the reply to send
	// back to the dispatcher, if any.
	HandleCommand(ctx context.Context, p parcel.Parcel) (parcel.Parcel, error)
}

// HandlerFunc is an adaptor that allows an ordinary function to be used as a
// Handler.
type HandlerFunc func(ctx context.Context, p parcel.Parcel) (parcel.Parcel, error)

// HandleCommand executes the command in p by calling fn(ctx, p).
func (fn HandlerFunc) HandleCommand(ctx context.Context, p parcel.Parcel) (parcel.Parcel, error) {
	return fn(ctx, p)
}

// A Registration is the result of subscribing a handler to a connector.
type Registration interface {
	// Cancel removes the subscription.
	Cancel()
}

// A Connector is the transport that carries commands between cluster members.
//
// Implementations must be safe for concurrent use by multiple dispatchers.
type Connector interface {
	// Send delivers the command in p to the cluster member that owns the given
	// routing key.
	//
	// cb, if non-nil, is invoked with the outcome of the command's remote
	// execution. An error returned by Send() indicates that the command could
	// not be delivered; in that case cb is never invoked.
	Send(ctx context.Context, key string, p parcel.Parcel, cb Callback) error

	// Subscribe registers h as the handler for commands with the given name
	// that are routed to this member.
	Subscribe(name string, h Handler) (Registration, error)
}
