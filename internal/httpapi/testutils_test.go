package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/internal/eventbus"
	"github.com/rmacdonaldsmith/eventbus-go/internal/observability"
)

const testSecret = "test-secret-key"

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Bus     *eventbus.Bus
	Server  *Server
	HTTP    *httptest.Server
	Metrics *observability.Provider
}

// NewTestServerSetup creates a bus and an HTTP server in front of it
func NewTestServerSetup(t *testing.T, mutate ...func(*Config)) *TestServerSetup {
	t.Helper()

	provider := observability.NewProvider()
	metrics, err := observability.NewMetrics(provider.Meter())
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	busConfig := eventbus.NewConfig().
		WithWorkers(2, 2).
		WithMaxAttempts(2).
		WithBackoff(time.Millisecond, time.Millisecond, 1)
	bus, err := eventbus.New(busConfig, eventbus.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}

	config := Config{
		Port:              "8081",
		SecretKey:         testSecret,
		KeepaliveInterval: 50 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&config)
	}

	server, err := NewServer(bus, config, WithMetrics(provider))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	setup := &TestServerSetup{
		Bus:     bus,
		Server:  server,
		HTTP:    httptest.NewServer(server.Handler()),
		Metrics: provider,
	}
	t.Cleanup(setup.Close)
	return setup
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.HTTP.Close()
	setup.Bus.Close(context.Background())
	setup.Metrics.Shutdown(context.Background())
}

// Token creates a JWT token for testing
func (setup *TestServerSetup) Token(t *testing.T, clientID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Server.jwtAuth.GenerateToken(clientID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request to the test server. body is JSON encoded when not nil.
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, setup.HTTP.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// CreateTopic registers a topic through the API
func (setup *TestServerSetup) CreateTopic(t *testing.T, token, name string) {
	t.Helper()
	resp := setup.Do(t, http.MethodPost, "/api/v1/topics", token, TopicRequest{Name: name})
	expectStatus(t, resp, http.StatusCreated)
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d, got %d. Body: %s", want, resp.StatusCode, body)
	}
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}
