// Package bus provides the in-process publish/subscribe channel that couples
// the pipeline components. Components never call each other directly for
// control flow; they publish to named topics and react to what they consume.
package bus

import (
	"sync"

	"github.com/sells-group/refdata-migrate/internal/model"
)

// Topic names the control-flow channels shared between components.
type Topic string

const (
	// TopicStageComplete carries a model.Stage whose outstanding work has
	// fully resolved.
	TopicStageComplete Topic = "stage.complete"

	// TopicUserResolved carries a UserResolved payload whenever the
	// destination reports the identifier of a created user.
	TopicUserResolved Topic = "user.resolved"

	// TopicShutdown signals orderly process shutdown. The payload is the
	// terminal error, or nil on normal completion.
	TopicShutdown Topic = "app.shutdown"
)

// UserResolved is the payload for TopicUserResolved.
type UserResolved struct {
	Username string
	ID       string
}

// Event is a published message.
type Event struct {
	Topic Topic
	Stage model.Stage
	User  UserResolved
	Err   error
}

// Handler consumes one event. Handlers run on the publisher's goroutine in
// subscription order; they must not block on work paced slower than the
// dispatch interval.
type Handler func(Event)

// Bus is a topic-to-handler registry. The zero value is not usable; call New.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for the topic. There is no unsubscribe;
// subscriptions live for the run, matching the single-run pipeline lifecycle.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to every handler subscribed to its topic.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	hs := b.handlers[ev.Topic]
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// StageComplete publishes a stage-complete event.
func (b *Bus) StageComplete(stage model.Stage) {
	b.Publish(Event{Topic: TopicStageComplete, Stage: stage})
}

// Shutdown publishes the terminal shutdown signal.
func (b *Bus) Shutdown(err error) {
	b.Publish(Event{Topic: TopicShutdown, Err: err})
}
