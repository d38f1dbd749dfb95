// Package deadletter publishes failure events to a Watermill transport so that abandoned
// deliveries can leave the process, and reads them back.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventbus"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

// DefaultTopic is the Watermill topic failure events are published to.
const DefaultTopic = "eventbus.deadletter"

// Message metadata keys
const (
	MetadataTopic      = "eventbus_topic"
	MetadataEventName  = "eventbus_event_name"
	MetadataOriginalID = "eventbus_original_id"
	MetadataSubscriber = "eventbus_subscriber"
	MetadataAttempts   = "eventbus_attempts"
)

var (
	// ErrNotFailureEvent is returned when publishing an event without failure details
	ErrNotFailureEvent = errors.New("event is not a failure event")
	// ErrMalformedMessage is returned when a message cannot be decoded as a failure event
	ErrMalformedMessage = errors.New("malformed dead-letter message")
)

// record is the JSON payload of a dead-letter message.
type record struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	OriginalID string            `json:"originalId"`
	Subscriber string            `json:"subscriber"`
	Error      string            `json:"error"`
	Attempts   int               `json:"attempts"`
}

// Option configures a Sink.
type Option func(*Sink)

// WithTopic sets the Watermill topic failures are published to.
func WithTopic(topic string) Option {
	return func(s *Sink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// Sink implements eventbus.DeadLetterSink on top of a Watermill publisher.
// All bus topics share one Watermill topic; the bus topic travels in the metadata.
type Sink struct {
	publisher message.Publisher
	topic     string
}

// NewSink creates a sink publishing through publisher.
func NewSink(publisher message.Publisher, opts ...Option) *Sink {
	s := &Sink{
		publisher: publisher,
		topic:     DefaultTopic,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Topic returns the Watermill topic of the sink.
func (s *Sink) Topic() string {
	return s.topic
}

// PublishFailure encodes failure as a Watermill message and publishes it.
func (s *Sink) PublishFailure(ctx context.Context, topic eventlog.Topic, failure eventlog.Event) error {
	if !failure.IsFailure() {
		return ErrNotFailureEvent
	}

	payload, err := json.Marshal(record{
		ID:         failure.ID,
		Name:       failure.Name,
		Attributes: failure.Attributes,
		Timestamp:  failure.Timestamp,
		OriginalID: failure.Failure.OriginalID,
		Subscriber: failure.Failure.Subscriber,
		Error:      failure.Failure.Error,
		Attempts:   failure.Failure.Attempts,
	})
	if err != nil {
		return fmt.Errorf("failed to encode failure event: %w", err)
	}

	msg := message.NewMessage(failure.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataTopic, topic.Name)
	msg.Metadata.Set(MetadataEventName, failure.Name)
	msg.Metadata.Set(MetadataOriginalID, failure.Failure.OriginalID)
	msg.Metadata.Set(MetadataSubscriber, failure.Failure.Subscriber)
	msg.Metadata.Set(MetadataAttempts, strconv.Itoa(failure.Failure.Attempts))

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("failed to publish failure event: %w", err)
	}
	return nil
}

// Decode turns a dead-letter message back into the bus topic and failure event.
func Decode(msg *message.Message) (eventlog.Topic, eventlog.Event, error) {
	var r record
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		return eventlog.Topic{}, eventlog.Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	topic := msg.Metadata.Get(MetadataTopic)
	if topic == "" {
		return eventlog.Topic{}, eventlog.Event{}, fmt.Errorf("%w: missing %s", ErrMalformedMessage, MetadataTopic)
	}

	event := eventlog.NewEventWithID(r.ID, r.Name, r.Attributes, r.Timestamp)
	event.Failure = &eventlog.Failure{
		OriginalID: r.OriginalID,
		Subscriber: r.Subscriber,
		Error:      r.Error,
		Attempts:   r.Attempts,
	}
	return eventlog.NewTopic(topic), event, nil
}

// Consume subscribes to the sink topic on subscriber and calls fn for every decoded failure
// until ctx is done. Messages fn rejects are nacked; malformed messages are acked and dropped.
func Consume(ctx context.Context, subscriber message.Subscriber, topic string, fn func(eventlog.Topic, eventlog.Event) error) error {
	messages, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			busTopic, event, err := Decode(msg)
			if err != nil {
				msg.Ack()
				continue
			}
			if err := fn(busTopic, event); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

// NewGoChannel creates an in-process Watermill pub/sub for failure events.
func NewGoChannel(bufferSize int, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: int64(bufferSize),
			Persistent:          false,
		},
		logger,
	)
}

// Verify that Sink implements the DeadLetterSink interface at compile time
var _ eventbus.DeadLetterSink = (*Sink)(nil)
