package backend

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tailored-agentic-units/designchat/core/chat"
)

// ErrStreamClosed is returned by Receive once the stream is drained and
// closed without a pending event.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream is a buffered, cancellable channel of stream events. The
// producing generator owns Close; consumers read with Receive until a
// terminal event or an error.
type EventStream struct {
	events chan chat.StreamEvent
	ctx    context.Context
	closed atomic.Int32
}

// NewEventStream creates an EventStream bound to ctx with the given buffer.
func NewEventStream(ctx context.Context, buffer int) *EventStream {
	return &EventStream{
		events: make(chan chat.StreamEvent, buffer),
		ctx:    ctx,
	}
}

// Send delivers an event to the consumer, blocking until accepted or either
// context is cancelled.
func (s *EventStream) Send(ctx context.Context, event chat.StreamEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Receive returns the next event. A closed, drained stream yields
// ErrStreamClosed; cancellation of either context yields that context's error.
func (s *EventStream) Receive(ctx context.Context) (chat.StreamEvent, error) {
	select {
	case event, ok := <-s.events:
		if !ok {
			return chat.StreamEvent{}, ErrStreamClosed
		}
		return event, nil
	case <-ctx.Done():
		return chat.StreamEvent{}, ctx.Err()
	case <-s.ctx.Done():
		return chat.StreamEvent{}, s.ctx.Err()
	}
}

// Close marks the producing side finished. Safe to call more than once.
func (s *EventStream) Close() {
	if s.closed.CompareAndSwap(0, 1) {
		close(s.events)
	}
}

// IsClosed reports whether Close has been called.
func (s *EventStream) IsClosed() bool {
	return s.closed.Load() == 1
}
