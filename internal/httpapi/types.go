package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TopicRequest represents a topic registration request
type TopicRequest struct {
	Name string `json:"name"`
}

// TopicsResponse lists registered topics
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

// PublishRequest represents an event publishing request. ID and Timestamp are
// assigned by the server when omitted.
type PublishRequest struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
}

// PublishResponse represents an event publishing response
type PublishResponse struct {
	EventID string `json:"eventId"`
	Topic   string `json:"topic"`
	Index   int64  `json:"index"`
}

// FailureMessage describes an abandoned push delivery
type FailureMessage struct {
	OriginalID string `json:"originalId"`
	Subscriber string `json:"subscriber"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

// EventMessage is the wire form of an event, also used for server-sent events
type EventMessage struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Index      *int64            `json:"index,omitempty"`
	Failure    *FailureMessage   `json:"failure,omitempty"`
}

// ReadEventsResponse represents a response for reading events from a topic
type ReadEventsResponse struct {
	Events []EventMessage `json:"events"`
	Topic  string         `json:"topic"`
	From   int64          `json:"from"`
	Count  int            `json:"count"`
}

// SubscriptionRequest represents a pull subscription creation request
type SubscriptionRequest struct {
	SubscriberID string `json:"subscriberId"`
	Filter       string `json:"filter,omitempty"`
}

// SubscriptionResponse describes a subscription
type SubscriptionResponse struct {
	Topic        string `json:"topic"`
	SubscriberID string `json:"subscriberId"`
	Type         string `json:"type"`
	Filter       string `json:"filter,omitempty"`
}

// SubscriptionsListResponse represents a list of subscriptions
type SubscriptionsListResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

// SeekRequest repositions a pull subscriber. Exactly one field must be set.
type SeekRequest struct {
	AfterTimestamp *time.Time `json:"afterTimestamp,omitempty"`
	AfterEvent     string     `json:"afterEvent,omitempty"`
}

// AdminStatsResponse represents system statistics
type AdminStatsResponse struct {
	TotalEvents     int              `json:"totalEvents"`
	TopicCount      int              `json:"topicCount"`
	TopicCounts     map[string]int   `json:"topicCounts"`
	SubscriberCount int              `json:"subscriberCount"`
	Delivered       uint64           `json:"delivered"`
	Retries         uint64           `json:"retries"`
	DeadLettered    uint64           `json:"deadLettered"`
	Metrics         map[string]int64 `json:"metrics,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Topics  int    `json:"topics"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewEventMessage converts an event read from topic.
func NewEventMessage(topic eventlog.Topic, event eventlog.Event) EventMessage {
	msg := EventMessage{
		ID:         event.ID,
		Topic:      topic.Name,
		Name:       event.Name,
		Attributes: event.Attributes,
		Timestamp:  event.Timestamp,
	}
	if event.Failure != nil {
		msg.Failure = &FailureMessage{
			OriginalID: event.Failure.OriginalID,
			Subscriber: event.Failure.Subscriber,
			Error:      event.Failure.Error,
			Attempts:   event.Failure.Attempts,
		}
	}
	return msg
}

// WithIndex returns msg annotated with its log position.
func (m EventMessage) WithIndex(idx eventlog.Index) EventMessage {
	pos := idx.Position()
	m.Index = &pos
	return m
}
