package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/internal/retry"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for EventBus API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
	policy     retry.Policy
}

// NewClient creates a new EventBus HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	retries := config.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
		policy: retry.Policy{
			MaxAttempts: retries,
			Backoff:     retry.Exponential(config.RetryBackoff, 2, 5*time.Second),
		},
	}, nil
}

// Authenticate authenticates with the EventBus server and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"clientId": c.config.ClientID,
	}, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// ListTopics returns the registered topic names
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	var resp TopicsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/topics", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return resp.Topics, nil
}

// CreateTopic registers a topic. Registering an existing topic succeeds.
func (c *Client) CreateTopic(ctx context.Context, topic string) error {
	if err := c.authed(ctx, http.MethodPost, "/api/v1/topics", nil, TopicRequest{Name: topic}, nil); err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// Publish publishes an event to a topic
func (c *Client) Publish(ctx context.Context, topic string, req PublishRequest) (*PublishResponse, error) {
	var resp PublishResponse
	if err := c.authed(ctx, http.MethodPost, topicPath(topic, "events"), nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}
	return &resp, nil
}

// ReadEvents reads up to limit events from a topic starting at index from
func (c *Client) ReadEvents(ctx context.Context, topic string, from int64, limit int) (*ReadEventsResponse, error) {
	var resp ReadEventsResponse
	if err := c.authed(ctx, http.MethodGet, topicPath(topic, "events"), pageQuery(from, limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return &resp, nil
}

// GetEvent looks up an event by id
func (c *Client) GetEvent(ctx context.Context, topic, eventID string) (*EventMessage, error) {
	var resp EventMessage
	if err := c.authed(ctx, http.MethodGet, topicPath(topic, "events", eventID), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &resp, nil
}

// Subscribe creates a pull subscription, optionally filtered by a CEL expression
func (c *Client) Subscribe(ctx context.Context, topic, subscriberID, filter string) (*SubscriptionResponse, error) {
	var resp SubscriptionResponse
	req := SubscriptionRequest{SubscriberID: subscriberID, Filter: filter}
	if err := c.authed(ctx, http.MethodPost, topicPath(topic, "subscriptions"), nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &resp, nil
}

// ListSubscriptions returns the subscriptions of a topic
func (c *Client) ListSubscriptions(ctx context.Context, topic string) ([]SubscriptionResponse, error) {
	var resp SubscriptionsListResponse
	if err := c.authed(ctx, http.MethodGet, topicPath(topic, "subscriptions"), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return resp.Subscriptions, nil
}

// Unsubscribe removes a subscriber from a topic
func (c *Client) Unsubscribe(ctx context.Context, topic, subscriberID string) error {
	if err := c.authed(ctx, http.MethodDelete, topicPath(topic, "subscriptions", subscriberID), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// Poll returns the next event for a pull subscriber, or nil when none is available.
// Polling moves the cursor, so it is never retried.
func (c *Client) Poll(ctx context.Context, topic, subscriberID string) (*EventMessage, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp EventMessage
	status, err := c.send(ctx, http.MethodGet, topicPath(topic, "subscriptions", subscriberID, "poll"), nil, nil, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to poll: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &resp, nil
}

// SeekAfterTimestamp moves a pull subscriber to the first event after ts
func (c *Client) SeekAfterTimestamp(ctx context.Context, topic, subscriberID string, ts time.Time) error {
	return c.seek(ctx, topic, subscriberID, SeekRequest{AfterTimestamp: &ts})
}

// SeekAfterEvent moves a pull subscriber just past the given event
func (c *Client) SeekAfterEvent(ctx context.Context, topic, subscriberID, eventID string) error {
	return c.seek(ctx, topic, subscriberID, SeekRequest{AfterEvent: eventID})
}

func (c *Client) seek(ctx context.Context, topic, subscriberID string, req SeekRequest) error {
	if err := c.authed(ctx, http.MethodPost, topicPath(topic, "subscriptions", subscriberID, "seek"), nil, req, nil); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// ListDeadLetterTopics returns the topics of the server's dead-letter bus
func (c *Client) ListDeadLetterTopics(ctx context.Context) ([]string, error) {
	var resp TopicsResponse
	if err := c.authed(ctx, http.MethodGet, deadLetterPrefix, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list dead-letter topics: %w", err)
	}
	return resp.Topics, nil
}

// ReadDeadLetters reads up to limit failure events recorded for topic, starting at index from
func (c *Client) ReadDeadLetters(ctx context.Context, topic string, from int64, limit int) (*ReadEventsResponse, error) {
	var resp ReadEventsResponse
	path := deadLetterPrefix + "/" + url.PathEscape(topic) + "/events"
	if err := c.authed(ctx, http.MethodGet, path, pageQuery(from, limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return &resp, nil
}

// GetHealth returns the health status of the EventBus server
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// AdminGetStats returns system statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	var resp AdminStatsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/admin/stats", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

// authed performs a request that requires a token
func (c *Client) authed(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}
	return c.doRequestWithQuery(ctx, method, path, query, reqBody, respBody, true)
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// doRequestWithQuery performs an HTTP request. GET requests are retried on network
// errors, 429 and 5xx responses.
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}, requireAuth bool) error {
	if method != http.MethodGet {
		_, err := c.send(ctx, method, path, query, reqBody, respBody, requireAuth)
		return err
	}

	_, err := retry.Do(ctx, c.policy, func(ctx context.Context, _ struct{}) (int, error) {
		status, err := c.send(ctx, method, path, query, reqBody, respBody, requireAuth)
		if err != nil && retryable(err) {
			return status, retry.Retryable(err)
		}
		return status, err
	}, struct{}{})
	return err
}

// send performs one HTTP exchange and returns the status code
func (c *Client) send(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}, requireAuth bool) (int, error) {
	u, err := url.Parse(path)
	if err != nil {
		return 0, fmt.Errorf("invalid path %q: %w", path, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		var errResp ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		return resp.StatusCode, apiErr
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// Transport failures; the caller's own cancellation is not retried
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// deadLetterPrefix is where the server mounts its dead-letter bus
const deadLetterPrefix = "/api/v1/deadletter/topics"

func pageQuery(from int64, limit int) url.Values {
	query := url.Values{}
	if from > 0 {
		query.Set("from", strconv.FormatInt(from, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}

func topicPath(topic string, parts ...string) string {
	path := "/api/v1/topics/" + url.PathEscape(topic)
	for _, p := range parts {
		path += "/" + url.PathEscape(p)
	}
	return path
}
