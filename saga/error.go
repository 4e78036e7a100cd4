package saga

import (
	"errors"
)

// NonTransient is an interface for errors that will never be resolved by
// retrying the operation that caused them.
//
// A non-transient failure during batch commit is propagated immediately; it
// is never retried.
type NonTransient interface {
	error

	// NonTransient returns true if retrying can not resolve the error.
	NonTransient() bool
}

// IsNonTransient reports whether any error in err's chain is marked
// non-transient.
func IsNonTransient(err error) bool {
	var nt NonTransient
	if errors.As(err, &nt) {
		return nt.NonTransient()
	}

	return false
}
