package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// Topic identifies a named, independently ordered event stream.
// Two topics are equal when their names are equal.
type Topic struct {
	Name string
}

// NewTopic returns the topic with the given name.
func NewTopic(name string) Topic {
	return Topic{Name: name}
}

// String returns the topic name.
func (t Topic) String() string {
	return t.Name
}

// Event represents a single event in a topic log.
type Event struct {
	// ID is an opaque identifier, unique per topic. Assigned by the bus when empty.
	ID string

	// Name is the category of the event, e.g. "order.created"
	Name string

	// Attributes is the event payload (immutable after creation)
	Attributes map[string]string

	// Timestamp is the creation time used for timestamp based replay
	Timestamp time.Time

	// Failure is set only on dead-letter events
	Failure *Failure
}

// Failure describes why a push delivery of an event was abandoned.
type Failure struct {
	// OriginalID is the ID of the event that could not be delivered
	OriginalID string

	// Subscriber is the push subscriber whose handler failed
	Subscriber string

	// Error is the final failure cause
	Error string

	// Attempts is the number of handler invocations made
	Attempts int
}

// NewEvent creates a new Event with a generated ID and the current UTC time.
// The attributes are copied to ensure immutability.
func NewEvent(name string, attributes map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		Attributes: copyAttributes(attributes),
		Timestamp:  time.Now().UTC(),
	}
}

// NewEventWithID creates a new Event with a caller supplied ID and timestamp.
// The attributes are copied to ensure immutability.
func NewEventWithID(id, name string, attributes map[string]string, timestamp time.Time) Event {
	return Event{
		ID:         id,
		Name:       name,
		Attributes: copyAttributes(attributes),
		Timestamp:  timestamp,
	}
}

// NewFailureEvent builds the dead-letter record for an event whose delivery to subscriber
// failed with cause after attempts invocations. It keeps the original name and attributes
// and is stamped with now.
func NewFailureEvent(original Event, subscriber string, cause error, attempts int, now time.Time) Event {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       original.Name,
		Attributes: copyAttributes(original.Attributes),
		Timestamp:  now,
		Failure: &Failure{
			OriginalID: original.ID,
			Subscriber: subscriber,
			Error:      msg,
			Attempts:   attempts,
		},
	}
}

// IsFailure reports whether the event is a dead-letter record.
func (e Event) IsFailure() bool {
	return e.Failure != nil
}

// Attribute returns the value of a single attribute.
func (e Event) Attribute(key string) (string, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// Copy returns a deep copy of the Event.
func (e Event) Copy() Event {
	c := e
	c.Attributes = copyAttributes(e.Attributes)
	if e.Failure != nil {
		f := *e.Failure
		c.Failure = &f
	}
	return c
}

func copyAttributes(attributes map[string]string) map[string]string {
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}
