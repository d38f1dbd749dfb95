package eventbus

import (
	"context"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/internal/executor"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

// Future is the eventual result of a bus operation.
type Future[T any] = executor.Future[T]

// EventBus is a topic-partitioned publish/subscribe bus.
//
// Operations on one topic (register, publish, subscribe, unsubscribe, lookups) are
// totally ordered. Operations on one (topic, subscriber) pair (poll, reposition, push
// delivery) are totally ordered. Nothing is ordered across topics or across subscribers.
type EventBus interface {
	// RegisterTopic creates the log and subscription set for topic. Idempotent.
	RegisterTopic(ctx context.Context, topic eventlog.Topic) error

	// Publish appends event to topic and schedules push deliveries. The future
	// resolves with the assigned index once the append and fan-out are done; it does
	// not wait for deliveries.
	Publish(ctx context.Context, topic eventlog.Topic, event eventlog.Event) *Future[eventlog.Index]

	// Subscribe adds sub with its cursor at the current end of the log. Resubscribing an
	// existing subscriber id replaces the subscription and keeps the cursor. A push handler
	// must not await operations keyed on its own (topic, subscriber) lane, such as Poll on
	// itself; that lane is busy running the handler.
	Subscribe(ctx context.Context, sub routingtable.Subscription) *Future[struct{}]

	// Unsubscribe removes a subscriber and its cursor.
	Unsubscribe(ctx context.Context, topic eventlog.Topic, subscriberID string) *Future[struct{}]

	// Poll returns the event at the subscriber's cursor and advances it. A nil event
	// means nothing is available yet.
	Poll(ctx context.Context, topic eventlog.Topic, subscriberID string) *Future[*eventlog.Event]

	// SetIndexAfterTimestamp moves the cursor to the first event with a timestamp
	// strictly after ts, or to the end of the log.
	SetIndexAfterTimestamp(ctx context.Context, topic eventlog.Topic, subscriberID string, ts time.Time) *Future[struct{}]

	// SetIndexAfterEvent moves the cursor one past the event with eventID.
	SetIndexAfterEvent(ctx context.Context, topic eventlog.Topic, subscriberID, eventID string) *Future[struct{}]

	// GetEvent looks up an event by id.
	GetEvent(ctx context.Context, topic eventlog.Topic, eventID string) *Future[eventlog.Event]

	// ReadEvents returns up to max events starting at from.
	ReadEvents(ctx context.Context, topic eventlog.Topic, from eventlog.Index, max int) *Future[[]eventlog.Event]

	// ReplayEvents streams the events of topic starting at from until the end of the
	// log at the time of the call, or until ctx is done.
	ReplayEvents(ctx context.Context, topic eventlog.Topic, from eventlog.Index) (<-chan eventlog.Event, <-chan error)

	// Topics returns the registered topics sorted by name.
	Topics() []eventlog.Topic

	// Subscriptions returns the subscriptions of topic.
	Subscriptions(topic eventlog.Topic) ([]routingtable.Subscription, error)

	// Statistics returns aggregate counters.
	Statistics(ctx context.Context) (Statistics, error)

	// Close stops accepting operations and waits for queued work until ctx is done.
	Close(ctx context.Context) error
}

// DeadLetterSink receives the failure events of push deliveries that did not succeed.
type DeadLetterSink interface {
	// PublishFailure records failure under topic.
	PublishFailure(ctx context.Context, topic eventlog.Topic, failure eventlog.Event) error
}

// TopicRegistrar is implemented by sinks that need topics registered up front.
type TopicRegistrar interface {
	RegisterTopic(ctx context.Context, topic eventlog.Topic) error
}

// Statistics reports aggregate bus counters.
type Statistics struct {
	eventlog.Statistics

	// SubscriberCount is the number of subscriptions across all topics
	SubscriberCount int

	// Delivered is the number of push deliveries a handler accepted
	Delivered uint64

	// Retries is the number of retried push delivery attempts
	Retries uint64

	// DeadLettered is the number of push deliveries turned into failure events
	DeadLettered uint64
}
