package fixtures

import (
	"context"

	"github.com/sagabus/sagabus/command"
	"github.com/sagabus/sagabus/parcel"
)

// ConnectorStub is a test implementation of command.Connector.
type ConnectorStub struct {
	command.Connector

	SendFunc      func(ctx context.Context, key string, p parcel.Parcel, cb command.Callback) error
	SubscribeFunc func(name string, h command.Handler) (command.Registration, error)
}

// Send sends a command to the member that owns the given routing key.
//
// If s.SendFunc is non-nil it is called; otherwise the call is forwarded to
// the wrapped connector, if any.
func (s *ConnectorStub) Send(
	ctx context.Context,
	key string,
	p parcel.Parcel,
	cb command.Callback,
) error {
	if s.SendFunc != nil {
		return s.SendFunc(ctx, key, p, cb)
	}

	if s.Connector != nil {
		return s.Connector.Send(ctx, key, p, cb)
	}

	return nil
}

// Subscribe registers a handler for the given command name.
func (s *ConnectorStub) Subscribe(
	name string,
	h command.Handler,
) (command.Registration, error) {
	if s.SubscribeFunc != nil {
		return s.SubscribeFunc(name, h)
	}

	if s.Connector != nil {
		return s.Connector.Subscribe(name, h)
	}

	return RegistrationStub{}, nil
}

// RegistrationStub is a test implementation of command.Registration.
type RegistrationStub struct {
	CancelFunc func()
}

// Cancel removes the subscription.
func (s RegistrationStub) Cancel() {
	if s.CancelFunc != nil {
		s.CancelFunc()
	}
}
