// Package persistence defines the stored representation of saga state and the
// errors shared by the concrete data stores.
package persistence

import (
	"fmt"

	"github.com/dogmatiq/marshalkit"
	"github.com/sagabus/sagabus/saga"
)

// SagaInstance is the stored representation of one saga instance.
type SagaInstance struct {
	// SagaType is the name of the saga type this instance belongs to.
	SagaType string `json:"saga_type"`

	// InstanceID uniquely identifies the instance within its type.
	InstanceID string `json:"instance_id"`

	// Revision is incremented by each successful save. A save with a stale
	// revision fails with a ConflictError.
	Revision uint64 `json:"revision"`

	// Active indicates whether the instance still accepts events.
	Active bool `json:"active"`

	// Associations is the instance's current set of association values.
	Associations []saga.AssociationValue `json:"associations"`

	// Packet contains the marshaled application-defined saga state.
	Packet marshalkit.Packet `json:"packet"`
}

// ConflictError indicates that a saga instance could not be saved because the
// stored revision does not match the revision the save was based on, or
// because an instance with the same identifier already exists.
//
// It is non-transient. Under ownership partitioning it can only arise from a
// misconfigured pool (two workers claiming the same instance), which retrying
// will not fix.
type ConflictError struct {
	// SagaType is the name of the saga type.
	SagaType string

	// InstanceID is the identifier of the conflicting instance.
	InstanceID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"conflict saving '%s' saga %s, the instance has been modified since it was loaded",
		e.SagaType,
		e.InstanceID,
	)
}

// NonTransient marks the error as unresolvable by retry.
func (e ConflictError) NonTransient() bool {
	return true
}

// UnknownSagaError indicates that a saga instance does not exist in the data
// store.
type UnknownSagaError struct {
	// SagaType is the name of the saga type.
	SagaType string

	// InstanceID is the identifier of the unknown instance.
	InstanceID string
}

func (e UnknownSagaError) Error() string {
	return fmt.Sprintf(
		"unknown '%s' saga %s",
		e.SagaType,
		e.InstanceID,
	)
}

// MarshalSaga produces the stored representation of s.
func MarshalSaga(
	vm marshalkit.ValueMarshaler,
	sagaType string,
	s saga.Saga,
	revision uint64,
) (SagaInstance, error) {
	packet, err := vm.Marshal(s)
	if err != nil {
		return SagaInstance{}, err
	}

	return SagaInstance{
		SagaType:     sagaType,
		InstanceID:   s.ID(),
		Revision:     revision,
		Active:       s.Active(),
		Associations: s.AssociationValues(),
		Packet:       packet,
	}, nil
}

// UnmarshalSaga reconstructs a saga instance from its stored representation.
func UnmarshalSaga(
	vm marshalkit.ValueMarshaler,
	inst SagaInstance,
) (saga.Saga, error) {
	v, err := vm.Unmarshal(inst.Packet)
	if err != nil {
		return nil, err
	}

	s, ok := v.(saga.Saga)
	if !ok {
		return nil, fmt.Errorf(
			"%T is not a saga",
			v,
		)
	}

	return s, nil
}
