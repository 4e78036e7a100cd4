package saga

import (
	"context"

	"github.com/sagabus/sagabus/parcel"
)

// A UnitOfWork is the transactional boundary within which a worker prepares,
// invokes and persists its sagas.
//
// Units of work are worker-local; they are never shared between workers. The
// active unit of work is passed explicitly to every operation that
// participates in it.
type UnitOfWork interface {
	// IsActive reports whether the unit of work can still accept operations.
	//
	// A unit of work becomes inactive once it is committed or rolled back.
	IsActive() bool

	// Commit atomically applies the operations staged in the unit of work.
	Commit(ctx context.Context) error

	// Rollback discards the operations staged in the unit of work.
	//
	// cause is the error that led to the rollback.
	Rollback(ctx context.Context, cause error) error
}

// A UnitOfWorkFactory creates units of work.
type UnitOfWorkFactory interface {
	// New returns a new, active unit of work.
	//
	// cause is the event that triggered the work, or nil if the unit of work
	// is not associated with a specific event.
	New(ctx context.Context, cause *parcel.Parcel) (UnitOfWork, error)
}
