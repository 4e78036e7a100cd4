package fixtures

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
	"github.com/sagabus/sagabus/saga"
)

// SagaStub is a test implementation of saga.Saga.
//
// Handled message values are recorded on the stub itself, so they survive a
// marshal round-trip through the repository.
type SagaStub struct {
	saga.Base

	// Handled contains the values of the messages handled by this instance,
	// in order.
	Handled []string `json:"handled,omitempty"`

	// HandleFunc is an optional hook invoked by Handle() after the message
	// value is recorded.
	HandleFunc func(ctx context.Context, s *SagaStub, p parcel.Parcel) error `json:"-"`
}

// NewSagaStub returns a new saga stub with the given identifier.
func NewSagaStub(id string) *SagaStub {
	return &SagaStub{
		Base: saga.NewBase(id),
	}
}

// Handle handles an event that is associated with this saga.
func (s *SagaStub) Handle(ctx context.Context, p parcel.Parcel) error {
	s.Handled = append(s.Handled, messageValue(p.Message))

	if s.HandleFunc != nil {
		return s.HandleFunc(ctx, s, p)
	}

	return nil
}

// NewSagaDefinition returns a definition for SagaStub sagas.
//
// MessageA events create instances under the given creation policy,
// associated by the message value under the "value" key. MessageB events are
// routed to existing instances by the same association.
func NewSagaDefinition(name string, creation saga.CreationPolicy) *saga.Definition {
	return &saga.Definition{
		Name: name,
		Factory: func(id string) saga.Saga {
			return NewSagaStub(id)
		},
		Rules: []saga.Rule{
			{
				Matches: func(m interface{}) bool {
					_, ok := m.(MessageA)
					return ok
				},
				Associations: func(m interface{}) []saga.AssociationValue {
					return []saga.AssociationValue{
						{Key: "value", Value: m.(MessageA).Value},
					}
				},
				Creation: creation,
				InitialAssociation: func(m interface{}) (saga.AssociationValue, bool) {
					return saga.AssociationValue{
						Key:   "value",
						Value: m.(MessageA).Value,
					}, true
				},
			},
			{
				Matches: func(m interface{}) bool {
					_, ok := m.(MessageB)
					return ok
				},
				Associations: func(m interface{}) []saga.AssociationValue {
					return []saga.AssociationValue{
						{Key: "value", Value: m.(MessageB).Value},
					}
				},
			},
		},
	}
}

// messageValue returns the Value field of any of the stub message types.
func messageValue(m interface{}) string {
	switch m := m.(type) {
	case MessageA:
		return m.Value
	case MessageB:
		return m.Value
	case MessageC:
		return m.Value
	default:
		return ""
	}
}
