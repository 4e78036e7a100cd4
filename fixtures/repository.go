package fixtures

import (
	"context"

	"github.com/sagabus/sagabus/saga"
)

// RepositoryStub is a test implementation of saga.Repository.
type RepositoryStub struct {
	saga.Repository

	FindFunc func(ctx context.Context, sagaType string, v saga.AssociationValue) ([]string, error)
	LoadFunc func(ctx context.Context, sagaType, id string) (saga.Saga, error)
	AddFunc  func(ctx context.Context, w saga.UnitOfWork, sagaType string, s saga.Saga) error
	SaveFunc func(ctx context.Context, w saga.UnitOfWork, sagaType string, s saga.Saga) error
}

// Find returns the identifiers of the sagas of the given type that hold the
// given association value.
//
// If s.FindFunc is non-nil it is called; otherwise the call is forwarded to
// the wrapped repository, if any.
func (s *RepositoryStub) Find(
	ctx context.Context,
	sagaType string,
	v saga.AssociationValue,
) ([]string, error) {
	if s.FindFunc != nil {
		return s.FindFunc(ctx, sagaType, v)
	}

	if s.Repository != nil {
		return s.Repository.Find(ctx, sagaType, v)
	}

	return nil, nil
}

// Load loads the saga with the given identifier.
func (s *RepositoryStub) Load(
	ctx context.Context,
	sagaType, id string,
) (saga.Saga, error) {
	if s.LoadFunc != nil {
		return s.LoadFunc(ctx, sagaType, id)
	}

	if s.Repository != nil {
		return s.Repository.Load(ctx, sagaType, id)
	}

	return nil, nil
}

// Add stages the insertion of a newly created saga into w.
func (s *RepositoryStub) Add(
	ctx context.Context,
	w saga.UnitOfWork,
	sagaType string,
	x saga.Saga,
) error {
	if s.AddFunc != nil {
		return s.AddFunc(ctx, w, sagaType, x)
	}

	if s.Repository != nil {
		return s.Repository.Add(ctx, w, sagaType, x)
	}

	return nil
}

// Save stages an update of an existing saga into w.
func (s *RepositoryStub) Save(
	ctx context.Context,
	w saga.UnitOfWork,
	sagaType string,
	x saga.Saga,
) error {
	if s.SaveFunc != nil {
		return s.SaveFunc(ctx, w, sagaType, x)
	}

	if s.Repository != nil {
		return s.Repository.Save(ctx, w, sagaType, x)
	}

	return nil
}
