package eventbus

import (
	"errors"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

var (
	// ErrUnknownTopic is returned for operations on a topic that was never registered
	ErrUnknownTopic = routingtable.ErrUnknownTopic
	// ErrUnknownSubscriber is returned for cursor operations on a subscriber without a subscription
	ErrUnknownSubscriber = routingtable.ErrUnknownSubscriber
	// ErrUnknownEvent is returned when an event id is not present in a topic log
	ErrUnknownEvent = eventlog.ErrEventNotFound
	// ErrInvalidSubscription is returned for malformed subscriptions
	ErrInvalidSubscription = routingtable.ErrInvalidSubscription
	// ErrBusClosed is returned for operations after Close
	ErrBusClosed = errors.New("event bus is closed")
)
