// Package memorystream provides an in-memory implementation of the
// eventstream.Stream interface.
package memorystream

import (
	"context"
	"sync"

	"github.com/sagabus/sagabus/eventstream"
	"github.com/sagabus/sagabus/parcel"
)

// Stream is an in-memory event stream.
//
// It is an append-only ordered sequence. Any number of cursors may consume it
// independently; each observes every event in the identical order.
type Stream struct {
	m      sync.Mutex
	ready  chan struct{}
	events []eventstream.Event
}

// Open returns a cursor that reads events from the stream.
//
// offset is the offset of the first event to read. The first event on a
// stream is always at offset 0.
func (s *Stream) Open(
	ctx context.Context,
	offset uint64,
) (eventstream.Cursor, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &cursor{
		stream: s,
		offset: offset,
		closed: make(chan struct{}),
	}, nil
}

// Append appends events to the stream.
func (s *Stream) Append(parcels ...parcel.Parcel) {
	s.m.Lock()
	defer s.m.Unlock()

	o := uint64(len(s.events))

	for _, p := range parcels {
		s.events = append(
			s.events,
			eventstream.Event{
				Offset: o,
				Parcel: p,
			},
		)

		o++
	}

	if s.ready != nil {
		close(s.ready)
		s.ready = nil
	}
}

// cursor is a Cursor that reads events from a Stream.
type cursor struct {
	stream *Stream
	offset uint64

	once   sync.Once
	closed chan struct{}
}

// Next returns the next event in the stream.
//
// If the end of the stream is reached it blocks until an event is appended to
// the stream or ctx is canceled.
//
// If the cursor is closed before or during a call to Next(), it returns
// ErrCursorClosed.
func (c *cursor) Next(ctx context.Context) (eventstream.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return eventstream.Event{}, ctx.Err()
		case <-c.closed:
			return eventstream.Event{}, eventstream.ErrCursorClosed
		default:
		}

		ev, ok, ready := c.get()

		if ok {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return eventstream.Event{}, ctx.Err()
		case <-c.closed:
			return eventstream.Event{}, eventstream.ErrCursorClosed
		case <-ready:
		}
	}
}

// Ready reports whether an event is available to be returned by Next()
// without blocking.
func (c *cursor) Ready() bool {
	c.stream.m.Lock()
	defer c.stream.m.Unlock()

	return c.offset < uint64(len(c.stream.events))
}

// Close discards the cursor.
//
// It returns ErrCursorClosed if the cursor is already closed.
// Any current or future calls to Next() return ErrCursorClosed.
func (c *cursor) Close() error {
	err := eventstream.ErrCursorClosed

	c.once.Do(func() {
		err = nil
		close(c.closed)
	})

	return err
}

// get returns the next event if one is available, otherwise it returns a
// "ready" channel that is closed when an event is appended.
func (c *cursor) get() (eventstream.Event, bool, <-chan struct{}) {
	c.stream.m.Lock()
	defer c.stream.m.Unlock()

	if c.offset < uint64(len(c.stream.events)) {
		ev := c.stream.events[c.offset]
		c.offset++

		return ev, true, nil
	}

	if c.stream.ready == nil {
		c.stream.ready = make(chan struct{})
	}

	return eventstream.Event{}, false, c.stream.ready
}
