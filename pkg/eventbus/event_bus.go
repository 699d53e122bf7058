// Package eventbus carries the job lifecycle events of the development queue
// over a Watermill publisher and subscriber.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/careflow/pkg/events"
)

var ErrUnexpectedEvent = errors.New("unexpected event payload")

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.JobScheduled.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}

// On registers a handler for eventType that receives the decoded event as *T.
func On[T any](sub EventSubscriber, eventType events.EventType, handle func(ctx context.Context, event *T) error) error {
	return sub.Handle(eventType, func(ctx context.Context, event any) error {
		typed, ok := event.(*T)
		if !ok {
			return fmt.Errorf("%w: %s carried %T", ErrUnexpectedEvent, eventType, event)
		}

		return handle(ctx, typed)
	})
}
