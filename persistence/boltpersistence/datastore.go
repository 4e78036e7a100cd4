// Package boltpersistence provides a saga data store backed by a BoltDB
// database.
package boltpersistence

import (
	"context"
	"encoding/json"
	"os"

	"github.com/dogmatiq/marshalkit"
	"github.com/sagabus/sagabus/internal/x/bboltx"
	"github.com/sagabus/sagabus/parcel"
	"github.com/sagabus/sagabus/persistence"
	"github.com/sagabus/sagabus/saga"
	"go.etcd.io/bbolt"
)

var (
	sagaBucketKey      = []byte("saga")
	instancesBucketKey = []byte("instances")
	assocBucketKey     = []byte("assoc")
)

// DataStore is a BoltDB implementation of saga.Repository and
// saga.UnitOfWorkFactory.
//
// Saga instances are stored as JSON records keyed by instance ID, with a
// separate index bucket mapping association values to the instances that hold
// them.
type DataStore struct {
	// DB is the BoltDB database in which saga state is stored.
	DB *bbolt.DB

	// Marshaler marshals and unmarshals application-defined saga state.
	Marshaler marshalkit.ValueMarshaler
}

// Open creates and opens a data store at the given path.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	m marshalkit.ValueMarshaler,
) (*DataStore, error) {
	db, err := bboltx.Open(ctx, path, mode, nil)
	if err != nil {
		return nil, err
	}

	return &DataStore{
		DB:        db,
		Marshaler: m,
	}, nil
}

// Close closes the underlying database.
func (ds *DataStore) Close() error {
	return ds.DB.Close()
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
//
// Only active instances are indexed, so ended sagas are never returned.
func (ds *DataStore) Find(
	_ context.Context,
	sagaType string,
	v saga.AssociationValue,
) (ids []string, err error) {
	defer bboltx.Recover(&err)

	tx := bboltx.BeginRead(ds.DB)
	defer tx.Rollback()

	b := bboltx.Bucket(
		tx,
		sagaBucketKey,
		[]byte(sagaType),
		assocBucketKey,
		assocKey(v),
	)
	if b == nil {
		return nil, nil
	}

	bboltx.Must(
		b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		}),
	)

	return ids, nil
}

// Load loads the saga with the given identifier.
func (ds *DataStore) Load(
	_ context.Context,
	sagaType, id string,
) (_ saga.Saga, err error) {
	defer bboltx.Recover(&err)

	tx := bboltx.BeginRead(ds.DB)
	defer tx.Rollback()

	inst, ok := loadInstance(tx, sagaType, id)
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
//
// The update is based on the revision that is committed at the time Save is
// called; a concurrent commit for the same instance causes the unit of work
// to fail with a persistence.ConflictError.
func (ds *DataStore) Save(
	_ context.Context,
	w saga.UnitOfWork,
	sagaType string,
	s saga.Saga,
) (err error) {
	var rev uint64

	err = func() (err error) {
		defer bboltx.Recover(&err)

		tx := bboltx.BeginRead(ds.DB)
		defer tx.Rollback()

		if inst, ok := loadInstance(tx, sagaType, s.ID()); ok {
			rev = inst.Revision
		}

		return nil
	}()
	if err != nil {
		return err
	}

	inst, err := persistence.MarshalSaga(ds.Marshaler, sagaType, s, rev)
	if err != nil {
		return err
	}

	w.(*unitOfWork).stage(operation{
		instance: inst,
	})

	return nil
}

// loadInstance reads the stored representation of an instance within tx.
func loadInstance(
	tx *bbolt.Tx,
	sagaType, id string,
) (persistence.SagaInstance, bool) {
	b := bboltx.Bucket(
		tx,
		sagaBucketKey,
		[]byte(sagaType),
		instancesBucketKey,
	)
	if b == nil {
		return persistence.SagaInstance{}, false
	}

	data := b.Get([]byte(id))
	if data == nil {
		return persistence.SagaInstance{}, false
	}

	var inst persistence.SagaInstance
	bboltx.Must(json.Unmarshal(data, &inst))

	return inst, true
}

// assocKey returns the index bucket name for an association value.
func assocKey(v saga.AssociationValue) []byte {
	return []byte(v.Key + "\x00" + v.Value)
}
