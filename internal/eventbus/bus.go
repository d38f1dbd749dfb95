package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/eventbus-go/internal/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/internal/executor"
	"github.com/rmacdonaldsmith/eventbus-go/internal/observability"
	"github.com/rmacdonaldsmith/eventbus-go/internal/retry"
	"github.com/rmacdonaldsmith/eventbus-go/internal/routingtable"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventbus"
	eventlogpkg "github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	routingtablepkg "github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

var (
	// ErrEmptyTopic is returned when registering a topic without a name
	ErrEmptyTopic = errors.New("topic name cannot be empty")
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the time source used for bus-assigned and failure event timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// WithDeadLetter sets the sink receiving failure events of abandoned push deliveries.
// Without one, abandoned deliveries are only logged.
func WithDeadLetter(sink eventbus.DeadLetterSink) Option {
	return func(b *Bus) {
		b.deadLetter = sink
	}
}

// WithMetrics sets the instruments recording bus activity.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Bus) {
		b.metrics = metrics
	}
}

// WithTopicListener registers fn to be called with every newly registered topic.
func WithTopicListener(fn func(eventlogpkg.Topic)) Option {
	return func(b *Bus) {
		if fn != nil {
			b.topicListeners = append(b.topicListeners, fn)
		}
	}
}

// Bus implements eventbus.EventBus.
//
// Key discipline: a topic log and the subscription set of a topic change only inside
// tasks on the topic executor keyed by the topic name. A subscriber cursor changes only
// inside tasks on the lane executor keyed by (topic, subscriber), except for its
// initialization in Subscribe. Locks inside the log and registry give other workers a
// consistent view; they play no part in ordering.
type Bus struct {
	config     *Config
	policy     retry.Policy
	logger     *slog.Logger
	now        func() time.Time
	deadLetter eventbus.DeadLetterSink
	metrics    *observability.Metrics

	topicListeners []func(eventlogpkg.Topic)

	topicExec *executor.KeyedExecutor
	laneExec  *executor.KeyedExecutor
	registry  *routingtable.InMemoryRegistry

	logsMu sync.RWMutex
	logs   map[string]*eventlog.InMemoryTopicLog

	// lifecycle guards closed so that no task is enqueued after Close started
	lifecycle sync.RWMutex
	closed    bool

	// deliveryCtx is cancelled once the context given to Close is done
	deliveryCtx    context.Context
	cancelDelivery context.CancelFunc

	delivered    atomic.Uint64
	retries      atomic.Uint64
	deadLettered atomic.Uint64
}

// New creates a Bus with the given configuration.
func New(config *Config, opts ...Option) (*Bus, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		config:         config,
		policy:         config.RetryPolicy(),
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		topicExec:      executor.New(executor.WithWorkers(config.TopicWorkers)),
		laneExec:       executor.New(executor.WithWorkers(config.LaneWorkers)),
		registry:       routingtable.NewInMemoryRegistry(),
		logs:           make(map[string]*eventlog.InMemoryTopicLog),
		deliveryCtx:    ctx,
		cancelDelivery: cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "eventbus")

	return b, nil
}

// RegisterTopic creates the log and subscription set for topic. Registering a topic that
// already exists is a no-op. A newly created topic is also registered on the dead-letter
// sink when the sink needs it.
func (b *Bus) RegisterTopic(ctx context.Context, topic eventlogpkg.Topic) error {
	if topic.Name == "" {
		return ErrEmptyTopic
	}

	created, err := submit(b, b.topicExec, topic.Name, func() (bool, error) {
		b.logsMu.Lock()
		defer b.logsMu.Unlock()

		if _, exists := b.logs[topic.Name]; exists {
			return false, nil
		}
		b.logs[topic.Name] = eventlog.NewInMemoryTopicLog(topic)
		b.registry.AddTopic(topic)
		return true, nil
	}).Await(ctx)
	if err != nil {
		return err
	}

	if !created {
		return nil
	}
	b.logger.Info("topic registered", "topic", topic.Name)
	for _, fn := range b.topicListeners {
		fn(topic)
	}

	// Propagate only on creation so that buses dead-lettering into each other terminate
	if registrar, ok := b.deadLetter.(eventbus.TopicRegistrar); ok {
		if err := registrar.RegisterTopic(ctx, topic); err != nil {
			return fmt.Errorf("failed to register topic on dead-letter sink: %w", err)
		}
	}
	return nil
}

// Publish appends event to topic and schedules a delivery for every matching push
// subscription. An empty event id is replaced with a UUID and a zero timestamp with the
// current time.
func (b *Bus) Publish(ctx context.Context, topic eventlogpkg.Topic, event eventlogpkg.Event) *eventbus.Future[eventlogpkg.Index] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[eventlogpkg.Index](err)
	}

	event = event.Copy()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	return submit(b, b.topicExec, topic.Name, func() (eventlogpkg.Index, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return eventlogpkg.Index{}, err
		}

		idx, err := log.Append(event)
		if err != nil {
			return eventlogpkg.Index{}, fmt.Errorf("failed to append event: %w", err)
		}
		b.metrics.EventPublished(ctx, topic.Name)

		subs, err := b.registry.Subscriptions(topic)
		if err != nil {
			return idx, fmt.Errorf("failed to get subscriptions: %w", err)
		}
		for _, sub := range subs {
			if sub.Type != routingtablepkg.Push || !b.matches(sub, event) {
				continue
			}
			b.scheduleDelivery(sub, event, idx)
		}

		b.logger.Debug("event published", "topic", topic.Name, "event_id", event.ID, "index", idx.Position())
		return idx, nil
	})
}

// Subscribe adds sub to its topic. A new subscriber starts at the current end of the log;
// re-subscribing replaces the subscription and keeps the cursor.
func (b *Bus) Subscribe(ctx context.Context, sub routingtablepkg.Subscription) *eventbus.Future[struct{}] {
	if err := sub.Validate(); err != nil {
		return executor.Failed[struct{}](err)
	}
	if err := ctx.Err(); err != nil {
		return executor.Failed[struct{}](err)
	}

	return submit(b, b.topicExec, sub.Topic.Name, func() (struct{}, error) {
		log, err := b.topicLog(sub.Topic)
		if err != nil {
			return struct{}{}, err
		}
		if err := b.registry.Subscribe(sub, log.End()); err != nil {
			return struct{}{}, err
		}
		b.logger.Info("subscribed", "topic", sub.Topic.Name, "subscriber", sub.SubscriberID, "type", sub.Type.String())
		return struct{}{}, nil
	})
}

// Unsubscribe removes a subscriber from topic. Deliveries already scheduled still run.
func (b *Bus) Unsubscribe(ctx context.Context, topic eventlogpkg.Topic, subscriberID string) *eventbus.Future[struct{}] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[struct{}](err)
	}

	return submit(b, b.topicExec, topic.Name, func() (struct{}, error) {
		if err := b.registry.Unsubscribe(topic, subscriberID); err != nil {
			return struct{}{}, err
		}
		b.logger.Info("unsubscribed", "topic", topic.Name, "subscriber", subscriberID)
		return struct{}{}, nil
	})
}

// Poll returns the next event at or after the subscriber's cursor that passes its
// precondition and moves the cursor past it. Events that fail the precondition are
// skipped. The future resolves with nil when the cursor reached the end of the log.
func (b *Bus) Poll(ctx context.Context, topic eventlogpkg.Topic, subscriberID string) *eventbus.Future[*eventlogpkg.Event] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[*eventlogpkg.Event](err)
	}

	return submit(b, b.laneExec, laneKey(topic, subscriberID), func() (*eventlogpkg.Event, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return nil, err
		}
		sub, err := b.registry.Subscription(topic, subscriberID)
		if err != nil {
			return nil, err
		}
		cursor, err := b.registry.Cursor(topic, subscriberID)
		if err != nil {
			return nil, err
		}

		for {
			event, ok := log.At(cursor)
			if !ok {
				if err := b.registry.SetCursor(topic, subscriberID, cursor); err != nil {
					return nil, err
				}
				b.metrics.Polled(ctx, topic.Name, false)
				return nil, nil
			}
			cursor = cursor.Increment()
			if !b.matches(sub, event) {
				continue
			}
			if err := b.registry.SetCursor(topic, subscriberID, cursor); err != nil {
				return nil, err
			}
			b.metrics.Polled(ctx, topic.Name, true)
			return &event, nil
		}
	})
}

// SetIndexAfterTimestamp moves the subscriber's cursor to the first event with a
// timestamp strictly after ts, or to the end of the log when there is none.
func (b *Bus) SetIndexAfterTimestamp(ctx context.Context, topic eventlogpkg.Topic, subscriberID string, ts time.Time) *eventbus.Future[struct{}] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[struct{}](err)
	}

	return submit(b, b.laneExec, laneKey(topic, subscriberID), func() (struct{}, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := b.registry.Cursor(topic, subscriberID); err != nil {
			return struct{}{}, err
		}

		idx := log.IndexAfterTimestamp(ts)
		if err := b.registry.SetCursor(topic, subscriberID, idx); err != nil {
			return struct{}{}, err
		}
		b.logger.Debug("cursor repositioned", "topic", topic.Name, "subscriber", subscriberID, "index", idx.Position())
		return struct{}{}, nil
	})
}

// SetIndexAfterEvent moves the subscriber's cursor one past the event with eventID.
func (b *Bus) SetIndexAfterEvent(ctx context.Context, topic eventlogpkg.Topic, subscriberID, eventID string) *eventbus.Future[struct{}] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[struct{}](err)
	}

	return submit(b, b.laneExec, laneKey(topic, subscriberID), func() (struct{}, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := b.registry.Cursor(topic, subscriberID); err != nil {
			return struct{}{}, err
		}

		idx, err := log.IndexOf(eventID)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: %s in topic %s", eventbus.ErrUnknownEvent, eventID, topic.Name)
		}
		if err := b.registry.SetCursor(topic, subscriberID, idx.Increment()); err != nil {
			return struct{}{}, err
		}
		b.logger.Debug("cursor repositioned", "topic", topic.Name, "subscriber", subscriberID, "after_event", eventID)
		return struct{}{}, nil
	})
}

// GetEvent looks up an event of topic by id.
func (b *Bus) GetEvent(ctx context.Context, topic eventlogpkg.Topic, eventID string) *eventbus.Future[eventlogpkg.Event] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[eventlogpkg.Event](err)
	}

	return submit(b, b.topicExec, topic.Name, func() (eventlogpkg.Event, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return eventlogpkg.Event{}, err
		}
		event, err := log.ByID(eventID)
		if err != nil {
			return eventlogpkg.Event{}, fmt.Errorf("%w: %s in topic %s", eventbus.ErrUnknownEvent, eventID, topic.Name)
		}
		return event, nil
	})
}

// ReadEvents returns up to max events of topic starting at from.
func (b *Bus) ReadEvents(ctx context.Context, topic eventlogpkg.Topic, from eventlogpkg.Index, max int) *eventbus.Future[[]eventlogpkg.Event] {
	if err := ctx.Err(); err != nil {
		return executor.Failed[[]eventlogpkg.Event](err)
	}

	return submit(b, b.topicExec, topic.Name, func() ([]eventlogpkg.Event, error) {
		log, err := b.topicLog(topic)
		if err != nil {
			return nil, err
		}
		return log.Read(from, max)
	})
}

// ReplayEvents streams the events of topic from index from up to the end of the log at
// the time of the call. An unknown topic is reported on the error channel.
func (b *Bus) ReplayEvents(ctx context.Context, topic eventlogpkg.Topic, from eventlogpkg.Index) (<-chan eventlogpkg.Event, <-chan error) {
	log, err := b.topicLog(topic)
	if err == nil && b.isClosed() {
		err = eventbus.ErrBusClosed
	}
	if err != nil {
		events := make(chan eventlogpkg.Event)
		errs := make(chan error, 1)
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}
	return eventlog.Replay(ctx, log, from)
}

// Topics returns the registered topics sorted by name.
func (b *Bus) Topics() []eventlogpkg.Topic {
	return b.registry.Topics()
}

// Subscriptions returns the subscriptions of topic in subscription order.
func (b *Bus) Subscriptions(topic eventlogpkg.Topic) ([]routingtablepkg.Subscription, error) {
	return b.registry.Subscriptions(topic)
}

// Statistics returns aggregate counters of the bus. It fails with ErrBusClosed once
// the bus is closed.
func (b *Bus) Statistics(ctx context.Context) (eventbus.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return eventbus.Statistics{}, err
	}
	if b.isClosed() {
		return eventbus.Statistics{}, eventbus.ErrBusClosed
	}

	b.logsMu.RLock()
	counts := make(map[string]int64, len(b.logs))
	var total int64
	for name, log := range b.logs {
		n := int64(log.Len())
		counts[name] = n
		total += n
	}
	b.logsMu.RUnlock()

	return eventbus.Statistics{
		Statistics: eventlogpkg.Statistics{
			TotalEvents: total,
			TopicCounts: counts,
			TopicCount:  len(counts),
		},
		SubscriberCount: b.registry.SubscriberCount(),
		Delivered:       b.delivered.Load(),
		Retries:         b.retries.Load(),
		DeadLettered:    b.deadLettered.Load(),
	}, nil
}

// PublishFailure implements eventbus.DeadLetterSink so that a Bus can serve as the
// dead-letter bus of another one.
func (b *Bus) PublishFailure(ctx context.Context, topic eventlogpkg.Topic, failure eventlogpkg.Event) error {
	_, err := b.Publish(ctx, topic, failure).Await(ctx)
	return err
}

// Close stops accepting operations, lets queued publishes finish and waits for queued and
// retrying deliveries until ctx is done. Deliveries still retrying when ctx ends have their
// backoff cut short and are dead-lettered. Close is idempotent.
func (b *Bus) Close(ctx context.Context) error {
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return nil
	}
	b.closed = true
	b.lifecycle.Unlock()

	var errs []error
	if err := b.topicExec.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain topic workers: %w", err))
	}
	stop := context.AfterFunc(ctx, b.cancelDelivery)
	if err := b.laneExec.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to drain delivery workers: %w", err))
	}
	stop()
	b.cancelDelivery()
	if err := b.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close registry: %w", err))
	}

	b.logger.Info("event bus closed")
	return errors.Join(errs...)
}

func (b *Bus) isClosed() bool {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	return b.closed
}

// topicLog returns the log of topic or ErrUnknownTopic.
func (b *Bus) topicLog(topic eventlogpkg.Topic) (*eventlog.InMemoryTopicLog, error) {
	b.logsMu.RLock()
	defer b.logsMu.RUnlock()

	log, ok := b.logs[topic.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", eventbus.ErrUnknownTopic, topic.Name)
	}
	return log, nil
}

// matches evaluates the subscription precondition; a panicking precondition matches nothing.
func (b *Bus) matches(sub routingtablepkg.Subscription, event eventlogpkg.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("precondition panicked", "topic", sub.Topic.Name, "subscriber", sub.SubscriberID, "event_id", event.ID, "panic", r)
			ok = false
		}
	}()
	return sub.Matches(event)
}

// submit enqueues task on ex under key unless the bus is closed.
func submit[T any](b *Bus, ex *executor.KeyedExecutor, key string, task func() (T, error)) *eventbus.Future[T] {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	if b.closed {
		return executor.Failed[T](eventbus.ErrBusClosed)
	}
	return executor.Get(ex, key, task)
}

// laneKey is the executor key of a (topic, subscriber) pair.
func laneKey(topic eventlogpkg.Topic, subscriberID string) string {
	return topic.Name + "\x00" + subscriberID
}

// Verify that Bus implements the EventBus and DeadLetterSink interfaces at compile time
var (
	_ eventbus.EventBus       = (*Bus)(nil)
	_ eventbus.DeadLetterSink = (*Bus)(nil)
)
