package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StreamClient handles Server-Sent Events streaming
type StreamClient struct {
	client *Client
	events chan EventMessage
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc

	mu           sync.Mutex
	subscriberID string
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Topic to stream (required)
	Topic string

	// Filter is an optional CEL expression evaluated by the server
	Filter string

	// SubscriberID names the push subscription; the server generates one when empty
	SubscriberID string

	// BufferSize for the event channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream opens a push subscription on a topic and streams delivered events.
// The connection is re-established after failures; events published while it is
// down are not replayed.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		events: make(chan EventMessage, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Events returns the channel for receiving events
func (sc *StreamClient) Events() <-chan EventMessage {
	return sc.events
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// SubscriberID returns the subscriber id of the current connection, once connected
func (sc *StreamClient) SubscriberID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.subscriberID
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	attempts := 0
	for {
		err := sc.connectAndStream(ctx, config)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			default:
			}
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes SSE connection and processes events
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	streamURL := sc.client.baseURL.ResolveReference(&url.URL{Path: topicPath(config.Topic, "stream")})
	values := url.Values{}
	if config.Filter != "" {
		values.Set("filter", config.Filter)
	}
	if config.SubscriberID != "" {
		values.Set("subscriber", config.SubscriberID)
	}
	streamURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+sc.client.token)

	// The request timeout of the regular client would cut the stream
	httpClient := &http.Client{Transport: sc.client.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}

	sc.mu.Lock()
	sc.subscriberID = resp.Header.Get("X-Subscriber-Id")
	sc.mu.Unlock()

	return sc.processSSEStream(ctx, resp.Body)
}

// processSSEStream reads and parses Server-Sent Events
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()

		// Comments (": ping") and other fields (id:, event:, retry:) are ignored
		jsonData, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var event EventMessage
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			select {
			case sc.errors <- fmt.Errorf("failed to parse event: %w", err):
			default:
			}
			continue
		}

		// The server retries deliveries while the connection is behind, so block here
		select {
		case sc.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}
