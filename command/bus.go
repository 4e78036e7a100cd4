package command

import (
	"context"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sagabus/sagabus/parcel"
)

// Bus is a distributed command bus.
//
// It routes each command to a cluster member using a deterministic routing
// key, delegating the actual delivery to a Connector.
type Bus struct {
	// Connector is the transport used to deliver commands to cluster members.
	Connector Connector

	// Strategy determines the routing key for each dispatched command.
	Strategy RoutingStrategy

	// Logger is the target for log messages about dispatched commands.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	interceptors []DispatchInterceptor
}

// SetDispatchInterceptors replaces the set of interceptors that are applied to
// each dispatched command.
//
// It must not be called concurrently with Dispatch().
func (b *Bus) SetDispatchInterceptors(in []DispatchInterceptor) {
	b.interceptors = append([]DispatchInterceptor(nil), in...)
}

// Dispatch routes the command in p to the cluster member that owns its routing
// key.
//
// cb, if non-nil, is invoked with the asynchronous outcome of the command's
// remote execution. A non-nil error indicates that the command was not
// dispatched at all; a *DispatchError wraps any failure reported by the
// connector, with or without a callback present.
func (b *Bus) Dispatch(ctx context.Context, p parcel.Parcel, cb Callback) error {
	var err error

	for _, in := range b.interceptors {
		p, err = in.InterceptDispatch(ctx, p)
		if err != nil {
			return err
		}
	}

	key := b.Strategy.RouteKey(p)

	if err := b.Connector.Send(ctx, key, p, cb); err != nil {
		logging.Debug(
			b.Logger,
			"unable to dispatch '%s' command: %s",
			p.Envelope.GetPortableName(),
			err,
		)

		return DispatchError{
			Key:   key,
			Cause: err,
		}
	}

	return nil
}

// Subscribe registers h as the handler for commands with the given name that
// are routed to this member.
//
// The returned registration's Cancel() method cancels the underlying connector
// subscription exactly once; subsequent calls have no effect.
func (b *Bus) Subscribe(name string, h Handler) (Registration, error) {
	reg, err := b.Connector.Subscribe(name, h)
	if err != nil {
		return nil, err
	}

	return &registration{next: reg}, nil
}

// registration wraps a connector registration to guarantee that cancellation
// is delegated at most once.
type registration struct {
	once sync.Once
	next Registration
}

func (r *registration) Cancel() {
	r.once.Do(r.next.Cancel)
}
