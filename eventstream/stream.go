package eventstream

import (
	"context"
	"errors"

	"github.com/sagabus/sagabus/parcel"
)

// ErrCursorClosed indicates that a cursor can not be used because it has been
// closed.
var ErrCursorClosed = errors.New("cursor is closed")

// A Stream is a shared, strictly ordered sequence of event messages.
//
// Every cursor opened against a stream observes the same events in the same
// order; the saga processors' coordination-free creation decision depends on
// this guarantee.
type Stream interface {
	// Open returns a cursor used to read events from this stream.
	//
	// offset is the position of the first event to read. The first event on a
	// stream is always at offset 0.
	Open(ctx context.Context, offset uint64) (Cursor, error)
}

// A Cursor reads events from a stream.
//
// Cursors are not intended to be used by multiple goroutines concurrently.
type Cursor interface {
	// Next returns the next event in the stream.
	//
	// If the end of the stream is reached it blocks until an event is appended
	// to the stream or ctx is canceled.
	Next(ctx context.Context) (Event, error)

	// Ready reports whether an event is available to be returned by Next()
	// without blocking.
	Ready() bool

	// Close stops the cursor.
	//
	// Any current or future calls to Next() return ErrCursorClosed.
	Close() error
}

// Event is an event on an event stream.
type Event struct {
	// Offset is the offset of the event on the stream.
	Offset uint64

	// Parcel contains the event message and its envelope.
	Parcel parcel.Parcel
}

// ID returns the ID of the message.
func (e Event) ID() string {
	return e.Parcel.ID()
}
