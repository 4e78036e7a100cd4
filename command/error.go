package command

import (
	"fmt"
)

// DispatchError indicates that a command could not be delivered to the cluster
// member that owns its routing key.
//
// It is returned by Bus.Dispatch() when the connector fails synchronously.
// Failures of the command's remote execution are reported via the dispatch
// callback instead, and never produce a DispatchError.
type DispatchError struct {
	// Key is the routing key of the command that could not be dispatched.
	Key string

	// Cause is the error reported by the connector.
	Cause error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf(
		"unable to dispatch command with routing key '%s': %s",
		e.Key,
		e.Cause,
	)
}

// Unwrap returns the error reported by the connector.
func (e DispatchError) Unwrap() error {
	return e.Cause
}
