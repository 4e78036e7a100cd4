package saga

import (
	"context"
)

// A Repository provides access to persisted saga instances.
//
// Implementations need not arbitrate concurrent writers for the same
// identifier; ownership partitioning guarantees at most one worker ever
// mutates a given saga.
type Repository interface {
	// Find returns the identifiers of the sagas of the given type that hold
	// the given association value.
	Find(ctx context.Context, sagaType string, v AssociationValue) ([]string, error)

	// Load loads the saga with the given identifier.
	Load(ctx context.Context, sagaType, id string) (Saga, error)

	// Add stages the insertion of a newly created saga into w.
	Add(ctx context.Context, w UnitOfWork, sagaType string, s Saga) error

	// Save stages an update of an existing saga into w.
	Save(ctx context.Context, w UnitOfWork, sagaType string, s Saga) error
}
