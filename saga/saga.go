// Package saga implements a partitioned, sequence-ordered saga event
// processor.
//
// A fixed pool of workers consumes one shared, strictly ordered event stream.
// Each saga instance is owned by exactly one worker, assigned by hashing its
// identifier, so no locking or cross-worker messaging is required.
package saga

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
)

// An AssociationValue correlates events to the saga instances that are
// interested in them.
//
// A saga may hold several association values; they are not required to be
// unique across sagas.
type AssociationValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// A Saga is a long-lived, event-driven process instance.
//
// Implementations embed Base to obtain identity, association and lifecycle
// state. Saga state must be marshalable by the repository's marshaler.
type Saga interface {
	// ID returns the saga's unique identifier.
	ID() string

	// Active reports whether the saga is still interested in events.
	//
	// An inactive saga is excluded from event dispatch, but is not removed
	// from storage.
	Active() bool

	// AssociationValues returns the saga's current association values.
	AssociationValues() []AssociationValue

	// Associate adds an association value to the saga.
	Associate(v AssociationValue)

	// Handle handles an event that is associated with this saga.
	//
	// It may mutate the saga's own state and association values.
	Handle(ctx context.Context, p parcel.Parcel) error
}

// Base provides the identity, association and lifecycle state of a saga.
//
// It is intended to be embedded in application-defined saga types. Its fields
// are exported so that the embedding type marshals as a single value.
type Base struct {
	SagaID       string             `json:"id"`
	Associations []AssociationValue `json:"associations,omitempty"`
	Ended        bool               `json:"ended,omitempty"`
}

// NewBase returns a Base for a saga with the given identifier.
func NewBase(id string) Base {
	return Base{SagaID: id}
}

// ID returns the saga's unique identifier.
func (b *Base) ID() string {
	return b.SagaID
}

// Active reports whether the saga is still interested in events.
func (b *Base) Active() bool {
	return !b.Ended
}

// AssociationValues returns the saga's current association values.
func (b *Base) AssociationValues() []AssociationValue {
	return b.Associations
}

// Associate adds an association value to the saga.
//
// It has no effect if the saga already holds v.
func (b *Base) Associate(v AssociationValue) {
	for _, x := range b.Associations {
		if x == v {
			return
		}
	}

	b.Associations = append(b.Associations, v)
}

// Dissociate removes an association value from the saga.
func (b *Base) Dissociate(v AssociationValue) {
	for i, x := range b.Associations {
		if x == v {
			b.Associations = append(b.Associations[:i], b.Associations[i+1:]...)
			return
		}
	}
}

// End marks the saga as inactive.
//
// The saga's own event handling logic calls End() when its work is complete.
func (b *Base) End() {
	b.Ended = true
}

// sharesAssociation reports whether a holds any of the association values in
// b.
func sharesAssociation(a, b []AssociationValue) bool {
	for _, x := range b {
		for _, y := range a {
			if x == y {
				return true
			}
		}
	}

	return false
}
