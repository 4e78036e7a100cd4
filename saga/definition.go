package saga

import (
	"github.com/google/uuid"
	"github.com/sagabus/sagabus/parcel"
)

// CreationPolicy is the rule governing whether a new saga instance is created
// in response to an event.
type CreationPolicy int

const (
	// CreateNever indicates that the event never creates a saga instance.
	CreateNever CreationPolicy = iota

	// CreateAlways indicates that the event always creates a saga instance on
	// the worker that owns the candidate identifier.
	CreateAlways

	// CreateIfNoneFound indicates that the event creates a saga instance only
	// if it is not associated with any existing instance.
	CreateIfNoneFound
)

// A Rule describes how one shape of event message applies to a saga type.
//
// Rules form an explicit table, built at startup; no runtime type discovery
// is performed.
type Rule struct {
	// Matches is the message-shape predicate. The rule applies to an event if
	// and only if Matches returns true for its message.
	Matches func(m interface{}) bool

	// Associations returns the event's association values, used to locate the
	// saga instances that must handle it.
	Associations func(m interface{}) []AssociationValue

	// Creation is the policy for creating a new saga instance from the event.
	Creation CreationPolicy

	// InitialAssociation returns the association value given to a newly
	// created instance. It is ignored if Creation is CreateNever.
	//
	// Returning false suppresses creation for this specific event.
	InitialAssociation func(m interface{}) (AssociationValue, bool)
}

// A Definition describes a saga type to the event processors.
type Definition struct {
	// Name uniquely identifies the saga type.
	Name string

	// Factory allocates a new, empty saga instance with the given identifier.
	Factory func(id string) Saga

	// Rules is the table of event rules for this saga type, evaluated in
	// order. The first matching rule applies.
	Rules []Rule
}

// A ProcessingEvent is the unit of work for one processing cycle: a triggering
// event resolved against one saga definition.
//
// Every worker derives an identical ProcessingEvent for a given event, which
// is what allows the creation decision to be made without coordination.
type ProcessingEvent struct {
	// Parcel contains the triggering event.
	Parcel parcel.Parcel

	// Definition is the saga type targeted by the event.
	Definition *Definition

	// Associations is the set of association values derived from the event.
	Associations []AssociationValue

	// Creation is the creation policy of the matched rule.
	Creation CreationPolicy

	// InitialAssociation is the association value given to a newly created
	// instance. It is only meaningful if HasInitial is true.
	InitialAssociation AssociationValue

	// HasInitial reports whether an initial association value is present.
	HasInitial bool

	// CandidateID is the identifier of the saga instance that would be
	// created from this event, derived deterministically so that every worker
	// agrees on its owner.
	CandidateID string
}

// candidateNamespace is the UUID namespace used to derive candidate saga
// identifiers.
var candidateNamespace = uuid.MustParse("64cdbf5c-6f0b-43c2-9273-9ea353461b33")

// CandidateID returns the identifier of the saga instance that would be
// created for the given saga type in response to the message with the given
// ID.
//
// It is a pure function, so every worker derives the same candidate without
// any shared allocation.
func CandidateID(sagaType, messageID string) string {
	return uuid.NewSHA1(
		candidateNamespace,
		[]byte(sagaType+"\x00"+messageID),
	).String()
}

// Plan resolves the event in p against each saga definition.
//
// It returns one ProcessingEvent per definition with a matching rule. The
// result is a pure function of (defs, p), identical on every worker.
func Plan(defs []*Definition, p parcel.Parcel) []ProcessingEvent {
	var plan []ProcessingEvent

	for _, d := range defs {
		for _, r := range d.Rules {
			if !r.Matches(p.Message) {
				continue
			}

			ev := ProcessingEvent{
				Parcel:      p,
				Definition:  d,
				Creation:    r.Creation,
				CandidateID: CandidateID(d.Name, p.ID()),
			}

			if r.Associations != nil {
				ev.Associations = r.Associations(p.Message)
			}

			if r.Creation != CreateNever && r.InitialAssociation != nil {
				ev.InitialAssociation, ev.HasInitial = r.InitialAssociation(p.Message)
			}

			plan = append(plan, ev)

			break
		}
	}

	return plan
}
