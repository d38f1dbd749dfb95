package routingtable

import (
	"errors"
	"io"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

var (
	// ErrUnknownTopic is returned when a topic has not been registered
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownSubscriber is returned when a subscriber has no subscription on a topic
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Registry manages per-topic subscriptions and subscriber cursors.
//
// Subscription sets change only from tasks keyed on the topic name; a subscriber's cursor
// changes only from tasks keyed on (topic, subscriber). Implementations may still
// synchronize internally so readers on other workers see consistent state.
type Registry interface {
	io.Closer

	// AddTopic registers an empty subscription set for topic. Idempotent.
	AddTopic(topic eventlog.Topic)

	// HasTopic reports whether topic was registered.
	HasTopic(topic eventlog.Topic) bool

	// Subscribe adds or replaces the subscription of sub.SubscriberID on sub.Topic.
	// A new subscriber's cursor is set to start; a replaced one keeps its cursor.
	Subscribe(sub Subscription, start eventlog.Index) error

	// Unsubscribe removes a subscriber and its cursor from topic.
	Unsubscribe(topic eventlog.Topic, subscriberID string) error

	// Subscription returns the subscription of subscriberID on topic.
	Subscription(topic eventlog.Topic, subscriberID string) (Subscription, error)

	// Subscriptions returns the subscriptions of topic in subscription order.
	Subscriptions(topic eventlog.Topic) ([]Subscription, error)

	// Cursor returns the read position of subscriberID on topic.
	Cursor(topic eventlog.Topic, subscriberID string) (eventlog.Index, error)

	// SetCursor moves the read position of subscriberID on topic.
	SetCursor(topic eventlog.Topic, subscriberID string, idx eventlog.Index) error

	// Topics returns all registered topics.
	Topics() []eventlog.Topic

	// SubscriberCount returns the total number of subscriptions across topics.
	SubscriberCount() int
}
