// Package memoryconnector provides an in-process implementation of the
// command.Connector interface.
//
// It delivers every command to a handler subscribed within the same process,
// regardless of routing key. It is intended for single-member clusters and
// tests.
package memoryconnector

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagabus/sagabus/command"
	"github.com/sagabus/sagabus/parcel"
)

// Connector is an in-process command connector.
//
// Commands are executed synchronously on the caller's goroutine. The zero
// value is ready for use.
type Connector struct {
	m        sync.RWMutex
	handlers map[string]command.Handler
}

// Send delivers the command in p to the handler subscribed under the command's
// portable name.
//
// The routing key is accepted but unused; an in-process cluster has exactly
// one member.
func (c *Connector) Send(
	ctx context.Context,
	key string,
	p parcel.Parcel,
	cb command.Callback,
) error {
	c.m.RLock()
	h, ok := c.handlers[p.Envelope.GetPortableName()]
	c.m.RUnlock()

	if !ok {
		return fmt.Errorf(
			"no handler is subscribed for '%s' commands",
			p.Envelope.GetPortableName(),
		)
	}

	reply, err := h.HandleCommand(ctx, p)

	if cb != nil {
		cb(reply, err)
	}

	return nil
}

// Subscribe registers h as the handler for commands with the given name.
//
// It returns an error if a handler is already subscribed under that name.
func (c *Connector) Subscribe(name string, h command.Handler) (command.Registration, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if _, ok := c.handlers[name]; ok {
		return nil, fmt.Errorf(
			"a handler is already subscribed for '%s' commands",
			name,
		)
	}

	if c.handlers == nil {
		c.handlers = map[string]command.Handler{}
	}

	c.handlers[name] = h

	return registration{c, name}, nil
}

// registration removes a subscription when canceled.
type registration struct {
	connector *Connector
	name      string
}

func (r registration) Cancel() {
	r.connector.m.Lock()
	defer r.connector.m.Unlock()

	delete(r.connector.handlers, r.name)
}
