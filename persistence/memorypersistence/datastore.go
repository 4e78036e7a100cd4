// Package memorypersistence provides an in-memory saga data store, suitable
// for testing and ephemeral deployments.
package memorypersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/marshalkit"
	"github.com/sagabus/sagabus/parcel"
	"github.com/sagabus/sagabus/persistence"
	"github.com/sagabus/sagabus/saga"
)

// DataStore is an in-memory implementation of saga.Repository and
// saga.UnitOfWorkFactory.
//
// All operations staged within a unit of work are applied atomically by its
// Commit() method.
type DataStore struct {
	// Marshaler marshals and unmarshals application-defined saga state.
	Marshaler marshalkit.ValueMarshaler

	m       sync.RWMutex
	records map[instanceKey]persistence.SagaInstance
}

// instanceKey uniquely identifies a saga instance across types.
type instanceKey struct {
	sagaType string
	id       string
}

// New returns a new, active unit of work.
func (ds *DataStore) New(
	_ context.Context,
	_ *parcel.Parcel,
) (saga.UnitOfWork, error) {
	return &unitOfWork{ds: ds, active: true}, nil
}

// Find returns the identifiers of the sagas of the given type that hold the
// given association value.
func (ds *DataStore) Find(
	_ context.Context,
	sagaType string,
	v saga.AssociationValue,
) ([]string, error) {
	ds.m.RLock()
	defer ds.m.RUnlock()

	var ids []string

	for k, inst := range ds.records {
		if k.sagaType != sagaType || !inst.Active {
			continue
		}

		for _, a := range inst.Associations {
			if a == v {
				ids = append(ids, k.id)
				break
			}
		}
	}

	return ids, nil
}

// Load loads the saga with the given identifier.
func (ds *DataStore) Load(
	_ context.Context,
	sagaType, id string,
) (saga.Saga, error) {
	ds.m.RLock()
	inst, ok := ds.records[instanceKey{sagaType, id}]
	ds.m.RUnlock()

	if !ok {
		return nil, persistence.UnknownSagaError{
			SagaType:   sagaType,
			InstanceID: id,
		}
	}

	return persistence.UnmarshalSaga(ds.Marshaler, inst)
}

// Add stages the insertion of a newly created saga into w.
func (ds *DataStore) Add(
	_ context.Context,
	w saga.UnitOfWork,
	sagaType string,
	s saga.Saga,
) error {
	inst, err := persistence.MarshalSaga(ds.Marshaler, sagaType, s, 0)
	if err != nil {
		return err
	}

	w.(*unitOfWork).stage(operation{
		instance: inst,
		insert:   true,
	})

	return nil
}

// Save stages an update of an existing saga into w.
func (ds *DataStore) Save(
	_ context.Context,
	w saga.UnitOfWork,
	sagaType string,
	s saga.Saga,
) error {
	ds.m.RLock()
	rev := ds.records[instanceKey{sagaType, s.ID()}].Revision
	ds.m.RUnlock()

	inst, err := persistence.MarshalSaga(ds.Marshaler, sagaType, s, rev)
	if err != nil {
		return err
	}

	w.(*unitOfWork).stage(operation{
		instance: inst,
	})

	return nil
}

// apply commits the given operations atomically.
func (ds *DataStore) apply(ops []operation) error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.records == nil {
		ds.records = map[instanceKey]persistence.SagaInstance{}
	}

	// Validate every operation before applying any of them.
	for _, op := range ops {
		k := instanceKey{op.instance.SagaType, op.instance.InstanceID}
		existing, ok := ds.records[k]

		if op.insert {
			if ok {
				return persistence.ConflictError{
					SagaType:   k.sagaType,
					InstanceID: k.id,
				}
			}
		} else if !ok || existing.Revision != op.instance.Revision {
			return persistence.ConflictError{
				SagaType:   k.sagaType,
				InstanceID: k.id,
			}
		}
	}

	for _, op := range ops {
		k := instanceKey{op.instance.SagaType, op.instance.InstanceID}
		inst := op.instance
		inst.Revision++
		ds.records[k] = inst
	}

	return nil
}
