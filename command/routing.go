package command

import (
	"github.com/sagabus/sagabus/parcel"
)

// A RoutingStrategy derives a routing key from a command message.
//
// The key must be a pure function of the command's content, such that every
// member of the cluster routes the same command to the same member.
type RoutingStrategy interface {
	// RouteKey returns the routing key for the command in p.
	//
	// It must not fail for a well-formed command.
	RouteKey(p parcel.Parcel) string
}

// RouteKeyFunc is an adaptor that allows an ordinary function to be used as a
// RoutingStrategy.
type RouteKeyFunc func(p parcel.Parcel) string

// RouteKey returns the routing key for the command in p by calling fn(p).
func (fn RouteKeyFunc) RouteKey(p parcel.Parcel) string {
	return fn(p)
}

// RoutingTable is a RoutingStrategy that maps each command's portable name to
// a key extractor.
//
// The table is built at startup; no runtime type discovery is performed.
type RoutingTable struct {
	// Extractors maps a command's portable name to the function that derives
	// its routing key.
	Extractors map[string]func(p parcel.Parcel) string

	// Fallback is used for commands that have no entry in Extractors. If it is
	// nil, the command's correlation ID is used, guaranteeing that routing
	// never fails.
	Fallback func(p parcel.Parcel) string
}

// RouteKey returns the routing key for the command in p.
func (t RoutingTable) RouteKey(p parcel.Parcel) string {
	if x, ok := t.Extractors[p.Envelope.GetPortableName()]; ok {
		return x(p)
	}

	if t.Fallback != nil {
		return t.Fallback(p)
	}

	return p.Envelope.GetCorrelationId()
}
