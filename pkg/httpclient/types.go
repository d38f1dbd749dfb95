package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the EventBus HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries is the number of times a failed read is retried; negative disables retries
	MaxRetries int

	// RetryBackoff is the pause before the first retry, doubled for each further one
	RetryBackoff time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
}

// APIError is returned for every non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API, i.e. an unknown topic, event or subscriber
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TopicRequest registers a topic
type TopicRequest struct {
	Name string `json:"name"`
}

// TopicsResponse lists registered topics
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

// PublishRequest represents an event publishing request. ID and Timestamp are optional.
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

// Failure describes an abandoned push delivery carried by a failure event
type Failure struct {
	OriginalID string `json:"originalId"`
	Subscriber string `json:"subscriber"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

// EventMessage is an event as returned by reads, polls and the stream
type EventMessage struct {
	ID         string            `json:"id"`
	Topic      string            `json:"topic"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Index      *int64            `json:"index,omitempty"`
	Failure    *Failure          `json:"failure,omitempty"`
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

// SubscriptionResponse represents a subscription
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

// SeekRequest repositions a pull subscriber
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
