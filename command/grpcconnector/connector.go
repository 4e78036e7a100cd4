// Package grpcconnector provides a command.Connector implementation that
// delivers commands to cluster members over gRPC.
//
// Each member is configured with the same ordered list of member addresses.
// The member that owns a routing key is chosen by hashing the key over that
// list, so every member routes a given key to the same address without
// coordination.
//
// Commands travel as envelopespec.Envelope messages. The service is
// registered with a hand-written service descriptor, so no generated stubs
// are required.
package grpcconnector

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/interopspec/envelopespec"
	"github.com/dogmatiq/marshalkit"
	"github.com/sagabus/sagabus/command"
	"github.com/sagabus/sagabus/parcel"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
)

// Connector is a command connector that delivers commands to cluster members
// over gRPC.
type Connector struct {
	// Members is the ordered list of cluster member addresses. Every member of
	// the cluster must be configured with an identical list.
	Members []string

	// Self is the index of this member within Members. Commands routed to this
	// member are executed locally without a network round-trip.
	Self int

	// Marshaler is used to unmarshal inbound command envelopes and replies.
	Marshaler marshalkit.ValueMarshaler

	// DialOptions is the set of options used when dialing other members.
	DialOptions []grpc.DialOption

	// Logger is the target for log messages about command delivery.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m        sync.RWMutex
	handlers map[string]command.Handler
	conns    map[string]*grpc.ClientConn
}

// Send delivers the command in p to the member that owns the given routing
// key.
//
// Delivery errors that occur before the command leaves this process are
// returned synchronously. The outcome of the command's remote execution is
// reported via cb, if it is non-nil.
func (c *Connector) Send(
	ctx context.Context,
	key string,
	p parcel.Parcel,
	cb command.Callback,
) error {
	if len(c.Members) == 0 {
		return fmt.Errorf("no cluster members are configured")
	}

	member := memberForKey(key, len(c.Members))

	if member == c.Self {
		return c.sendLocal(ctx, p, cb)
	}

	conn, err := c.conn(c.Members[member])
	if err != nil {
		return err
	}

	go func() {
		reply, err := c.invoke(ctx, conn, p)

		if err != nil {
			logging.Debug(
				c.Logger,
				"error executing '%s' command on %s: %s",
				p.Envelope.GetPortableName(),
				c.Members[member],
				err,
			)
		}

		if cb != nil {
			cb(reply, err)
		}
	}()

	return nil
}

// Subscribe registers h as the handler for commands with the given name that
// are routed to this member.
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

// Close severs the connections to the other cluster members.
func (c *Connector) Close() error {
	c.m.Lock()
	defer c.m.Unlock()

	var err error
	for _, conn := range c.conns {
		err = multierr.Append(err, conn.Close())
	}

	c.conns = nil

	return err
}

// sendLocal executes the command in p against this member's own subscriptions.
func (c *Connector) sendLocal(
	ctx context.Context,
	p parcel.Parcel,
	cb command.Callback,
) error {
	h, ok := c.handler(p.Envelope.GetPortableName())
	if !ok {
		return fmt.Errorf(
			"no handler is subscribed for '%s' commands",
			p.Envelope.GetPortableName(),
		)
	}

	go func() {
		reply, err := h.HandleCommand(ctx, p)

		if cb != nil {
			cb(reply, err)
		}
	}()

	return nil
}

// invoke performs the Execute RPC against a remote member.
func (c *Connector) invoke(
	ctx context.Context,
	conn *grpc.ClientConn,
	p parcel.Parcel,
) (parcel.Parcel, error) {
	res := &envelopespec.Envelope{}

	if err := conn.Invoke(
		ctx,
		executeMethod,
		p.Envelope,
		res,
	); err != nil {
		return parcel.Parcel{}, err
	}

	if res.GetMessageId() == "" {
		// The handler produced no reply.
		return parcel.Parcel{}, nil
	}

	return parcel.FromEnvelope(c.Marshaler, res)
}

// handler returns the handler subscribed under the given name, if any.
func (c *Connector) handler(name string) (command.Handler, bool) {
	c.m.RLock()
	defer c.m.RUnlock()

	h, ok := c.handlers[name]

	return h, ok
}

// conn returns the client connection to the member at the given address,
// dialing it if necessary.
func (c *Connector) conn(addr string) (*grpc.ClientConn, error) {
	c.m.RLock()
	conn, ok := c.conns[addr]
	c.m.RUnlock()

	if ok {
		return conn, nil
	}

	c.m.Lock()
	defer c.m.Unlock()

	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}

	conn, err := grpc.Dial(addr, c.DialOptions...)
	if err != nil {
		return nil, err
	}

	if c.conns == nil {
		c.conns = map[string]*grpc.ClientConn{}
	}

	c.conns[addr] = conn

	return conn, nil
}

// memberForKey returns the index of the member that owns the given routing
// key.
func memberForKey(key string, n int) int {
	h := fnv.New64a()
	h.Write([]byte(key))

	return int(h.Sum64() % uint64(n))
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
