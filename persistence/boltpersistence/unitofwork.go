package boltpersistence

import (
	"context"
	"encoding/json"

	"github.com/sagabus/sagabus/internal/x/bboltx"
	"github.com/sagabus/sagabus/persistence"
	"go.etcd.io/bbolt"
)

// operation is one staged insert or update.
type operation struct {
	instance persistence.SagaInstance
	insert   bool
}

// unitOfWork buffers operations until they are committed in a single BoltDB
// write transaction.
type unitOfWork struct {
	ds     *DataStore
	ops    []operation
	active bool
}

func (w *unitOfWork) stage(op operation) {
	if !w.active {
		panic("unit of work is no longer active")
	}

	w.ops = append(w.ops, op)
}

// IsActive reports whether the unit of work can still accept operations.
func (w *unitOfWork) IsActive() bool {
	return w.active
}

// Commit applies the staged operations in a single write transaction.
func (w *unitOfWork) Commit(context.Context) (err error) {
	if !w.active {
		panic("unit of work is no longer active")
	}

	w.active = false

	defer bboltx.Recover(&err)

	tx := bboltx.BeginWrite(w.ds.DB)
	defer tx.Rollback()

	for _, op := range w.ops {
		if err := applyOperation(tx, op); err != nil {
			return err
		}
	}

	bboltx.Commit(tx)

	return nil
}

// Rollback discards the staged operations.
func (w *unitOfWork) Rollback(context.Context, error) error {
	if !w.active {
		panic("unit of work is no longer active")
	}

	w.active = false
	w.ops = nil

	return nil
}

// applyOperation writes one instance record and maintains the association
// index within tx.
func applyOperation(tx *bbolt.Tx, op operation) error {
	inst := op.instance

	instances := bboltx.CreateBucketIfNotExists(
		tx,
		sagaBucketKey,
		[]byte(inst.SagaType),
		instancesBucketKey,
	)

	id := []byte(inst.InstanceID)
	existing := instances.Get(id)

	if op.insert {
		if existing != nil {
			return persistence.ConflictError{
				SagaType:   inst.SagaType,
				InstanceID: inst.InstanceID,
			}
		}
	} else {
		if existing == nil {
			return persistence.ConflictError{
				SagaType:   inst.SagaType,
				InstanceID: inst.InstanceID,
			}
		}

		var old persistence.SagaInstance
		bboltx.Must(json.Unmarshal(existing, &old))

		if old.Revision != inst.Revision {
			return persistence.ConflictError{
				SagaType:   inst.SagaType,
				InstanceID: inst.InstanceID,
			}
		}

		removeFromIndex(tx, old)
	}

	inst.Revision++

	data, err := json.Marshal(inst)
	bboltx.Must(err)
	bboltx.Put(instances, id, data)

	if inst.Active {
		addToIndex(tx, inst)
	}

	return nil
}

// addToIndex records the instance under each of its association values.
func addToIndex(tx *bbolt.Tx, inst persistence.SagaInstance) {
	for _, v := range inst.Associations {
		b := bboltx.CreateBucketIfNotExists(
			tx,
			sagaBucketKey,
			[]byte(inst.SagaType),
			assocBucketKey,
			assocKey(v),
		)

		bboltx.Put(b, []byte(inst.InstanceID), nil)
	}
}

// removeFromIndex removes the instance from the index entries of its stored
// association values.
func removeFromIndex(tx *bbolt.Tx, inst persistence.SagaInstance) {
	for _, v := range inst.Associations {
		b := bboltx.Bucket(
			tx,
			sagaBucketKey,
			[]byte(inst.SagaType),
			assocBucketKey,
			assocKey(v),
		)
		if b != nil {
			bboltx.Delete(b, []byte(inst.InstanceID))
		}
	}
}
