package framework

import (
	"context"

	"github.com/robotalks/canlink.go/pkg/event"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// EventHandler consumes events drained from the event queue.
type EventHandler interface {
	// HandleEvent reports whether the event was processed. Unprocessed
	// events are offered to the next handler.
	HandleEvent(event.Event) bool
}

// HandleEventFunc is the func form of EventHandler.
type HandleEventFunc func(event.Event) bool

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(e event.Event) bool {
	return f(e)
}

// HandleEventID returns an EventHandler processing only events with id.
func HandleEventID(id event.ID, fn func(event.Event)) EventHandler {
	return HandleEventFunc(func(e event.Event) bool {
		if e.ID != id {
			return false
		}
		fn(e)
		return true
	})
}

// LoopControl exposes access to the main loop.
type LoopControl interface {
	// Raise enqueues an event on the loop's queue.
	Raise(prio event.Priority, id event.ID, data uint16) error
	// TriggerNext schedules the next iteration immediately.
	TriggerNext()
}
