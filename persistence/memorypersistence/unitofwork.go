package memorypersistence

import (
	"context"

	"github.com/sagabus/sagabus/persistence"
)

// operation is one staged insert or update.
type operation struct {
	instance persistence.SagaInstance
	insert   bool
}

// unitOfWork buffers operations until they are committed.
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

// Commit atomically applies the staged operations.
func (w *unitOfWork) Commit(context.Context) error {
	if !w.active {
		panic("unit of work is no longer active")
	}

	w.active = false

	return w.ds.apply(w.ops)
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
