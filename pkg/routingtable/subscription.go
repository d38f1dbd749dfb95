package routingtable

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

// ErrInvalidSubscription is returned when a subscription is malformed
var ErrInvalidSubscription = errors.New("invalid subscription")

// SubscriptionType says how events reach a subscriber
type SubscriptionType int

const (
	// Push subscribers receive events through their Handler as they are published
	Push SubscriptionType = iota

	// Pull subscribers retrieve events by polling, advancing their own cursor
	Pull
)

func (t SubscriptionType) String() string {
	switch t {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "unknown"
	}
}

// ParseSubscriptionType converts "push" or "pull" into a SubscriptionType.
func ParseSubscriptionType(s string) (SubscriptionType, error) {
	switch s {
	case "push":
		return Push, nil
	case "pull", "":
		return Pull, nil
	default:
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidSubscription, s)
	}
}

// Handler consumes a pushed event. Returning an error marked retryable makes the bus
// retry the delivery; any other error ends it.
type Handler func(ctx context.Context, event eventlog.Event) error

// Precondition decides whether an event is delivered to a push subscriber.
type Precondition func(event eventlog.Event) bool

// Subscription represents one subscriber's interest in one topic
type Subscription struct {
	// Topic is the topic subscribed to
	Topic eventlog.Topic

	// SubscriberID identifies the subscribing entity
	SubscriberID string

	// Type is Push or Pull
	Type SubscriptionType

	// Precondition filters events for push delivery; nil delivers everything
	Precondition Precondition

	// Filter is the source text of Precondition when it was compiled from an expression
	Filter string

	// Handler is invoked for push delivery; unused for pull subscriptions
	Handler Handler
}

// NewPushSubscription creates a push subscription delivering every event to handler.
func NewPushSubscription(topic eventlog.Topic, subscriberID string, handler Handler) Subscription {
	return Subscription{
		Topic:        topic,
		SubscriberID: subscriberID,
		Type:         Push,
		Handler:      handler,
	}
}

// NewPullSubscription creates a pull subscription.
func NewPullSubscription(topic eventlog.Topic, subscriberID string) Subscription {
	return Subscription{
		Topic:        topic,
		SubscriberID: subscriberID,
		Type:         Pull,
	}
}

// WithPrecondition returns a copy of s filtered by p.
func (s Subscription) WithPrecondition(p Precondition) Subscription {
	s.Precondition = p
	return s
}

// WithFilter returns a copy of s filtered by p, remembering the expression it came from.
func (s Subscription) WithFilter(expr string, p Precondition) Subscription {
	s.Filter = expr
	s.Precondition = p
	return s
}

// Matches reports whether event passes the subscription's precondition.
func (s Subscription) Matches(event eventlog.Event) bool {
	if s.Precondition == nil {
		return true
	}
	return s.Precondition(event)
}

// Validate checks that the subscription can be registered.
func (s Subscription) Validate() error {
	if s.Topic.Name == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidSubscription)
	}
	if s.SubscriberID == "" {
		return fmt.Errorf("%w: subscriber id cannot be empty", ErrInvalidSubscription)
	}
	switch s.Type {
	case Push:
		if s.Handler == nil {
			return fmt.Errorf("%w: push subscription requires a handler", ErrInvalidSubscription)
		}
	case Pull:
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidSubscription, s.Type)
	}
	return nil
}
