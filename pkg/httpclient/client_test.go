package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns an authenticated client pointed at handler
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ServerURL:    server.URL,
		ClientID:     "test-client",
		RetryBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	client.SetToken("test-token")
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL: "http://localhost:8080",
			ClientID:  "test-client",
		})
		require.NoError(t, err)
		assert.Equal(t, "test-client", client.config.ClientID)
		assert.Equal(t, 30*time.Second, client.config.Timeout)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, 3, client.policy.MaxAttempts)
		assert.False(t, client.IsAuthenticated())
	})

	t.Run("retries_disabled", func(t *testing.T) {
		client, err := NewClient(Config{
			ServerURL:  "http://localhost:8080",
			ClientID:   "test-client",
			MaxRetries: -1,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, client.policy.MaxAttempts)
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("missing_client_id", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8080"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ClientID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url", ClientID: "test-client"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Empty(t, r.Header.Get("Authorization"))

			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-client", req["clientId"])

			writeJSON(t, w, http.StatusOK, AuthResponse{
				Token:     "jwt-token",
				ClientID:  "test-client",
				ExpiresAt: time.Now().Add(time.Hour),
			})
		})
		client.SetToken("")

		require.NoError(t, client.Authenticate(context.Background()))
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "jwt-token", client.GetToken())
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusBadRequest, ErrorResponse{Error: "Bad Request", Message: "clientId is required", Code: 400})
		})
		client.SetToken("")

		err := client.Authenticate(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Equal(t, "clientId is required", apiErr.Message)
		assert.False(t, client.IsAuthenticated())
	})
}

func TestClient_RequiresAuthentication(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://localhost:8080", ClientID: "test-client"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.ListTopics(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = client.Publish(ctx, "orders", PublishRequest{Name: "order.created"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = client.Poll(ctx, "orders", "s1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = client.Stream(ctx, StreamConfig{Topic: "orders"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_Topics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/topics", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, http.StatusOK, TopicsResponse{Topics: []string{"orders", "payments"}})
		case http.MethodPost:
			var req TopicRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "orders", req.Name)
			writeJSON(t, w, http.StatusCreated, TopicRequest{Name: req.Name})
		}
	})

	require.NoError(t, client.CreateTopic(context.Background(), "orders"))

	topics, err := client.ListTopics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "payments"}, topics)
}

func TestClient_Publish(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/topics/orders/events", r.URL.Path)

		var req PublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order.created", req.Name)
		assert.Equal(t, "eu", req.Attributes["region"])

		writeJSON(t, w, http.StatusCreated, PublishResponse{EventID: "evt-1", Topic: "orders", Index: 7})
	})

	resp, err := client.Publish(context.Background(), "orders", PublishRequest{
		Name:       "order.created",
		Attributes: map[string]string{"region": "eu"},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", resp.EventID)
	assert.Equal(t, int64(7), resp.Index)
}

func TestClient_ReadEvents(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/topics/orders/events", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("from"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		idx := int64(5)
		writeJSON(t, w, http.StatusOK, ReadEventsResponse{
			Topic:  "orders",
			From:   5,
			Count:  1,
			Events: []EventMessage{{ID: "e5", Topic: "orders", Name: "order.created", Index: &idx}},
		})
	})

	resp, err := client.ReadEvents(context.Background(), "orders", 5, 2)
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "e5", resp.Events[0].ID)
	require.NotNil(t, resp.Events[0].Index)
	assert.Equal(t, int64(5), *resp.Events[0].Index)
}

func TestClient_DeadLetters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/v1/deadletter/topics":
			writeJSON(t, w, http.StatusOK, TopicsResponse{Topics: []string{"orders"}})
		case "/api/v1/deadletter/topics/orders/events":
			assert.Equal(t, "", r.URL.Query().Get("from"))
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			writeJSON(t, w, http.StatusOK, ReadEventsResponse{
				Topic:  "orders",
				Count:  1,
				Events: []EventMessage{{
					ID:      "f1",
					Topic:   "orders",
					Name:    "order.created",
					Failure: &Failure{OriginalID: "e1", Subscriber: "billing", Error: "card declined", Attempts: 4},
				}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	topics, err := client.ListDeadLetterTopics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, topics)

	resp, err := client.ReadDeadLetters(context.Background(), "orders", 0, 10)
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	require.NotNil(t, resp.Events[0].Failure)
	assert.Equal(t, "e1", resp.Events[0].Failure.OriginalID)
	assert.Equal(t, 4, resp.Events[0].Failure.Attempts)
}

func TestClient_EscapesPathSegments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/topics/a%2Fb/events/id%20with%20space", r.URL.EscapedPath())
		writeJSON(t, w, http.StatusOK, EventMessage{ID: "id with space", Topic: "a/b"})
	})

	event, err := client.GetEvent(context.Background(), "a/b", "id with space")
	require.NoError(t, err)
	assert.Equal(t, "a/b", event.Topic)
}

func TestClient_Subscriptions(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/topics/orders/subscriptions":
			var req SubscriptionRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(t, w, http.StatusCreated, SubscriptionResponse{
				Topic: "orders", SubscriberID: req.SubscriberID, Type: "pull", Filter: req.Filter,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/topics/orders/subscriptions":
			writeJSON(t, w, http.StatusOK, SubscriptionsListResponse{
				Subscriptions: []SubscriptionResponse{{Topic: "orders", SubscriberID: "s1", Type: "pull"}},
			})
		case r.URL.Path == "/api/v1/topics/orders/subscriptions/s1/poll":
			if polls.Add(1) == 1 {
				writeJSON(t, w, http.StatusOK, EventMessage{ID: "e1", Topic: "orders"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v1/topics/orders/subscriptions/s1/seek":
			var req SeekRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "e1", req.AfterEvent)
			assert.Nil(t, req.AfterTimestamp)
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/topics/orders/subscriptions/s1":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "orders", "s1", `name == "order.created"`)
	require.NoError(t, err)
	assert.Equal(t, "pull", sub.Type)
	assert.Equal(t, `name == "order.created"`, sub.Filter)

	subs, err := client.ListSubscriptions(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, subs, 1)

	event, err := client.Poll(ctx, "orders", "s1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "e1", event.ID)

	event, err = client.Poll(ctx, "orders", "s1")
	require.NoError(t, err)
	assert.Nil(t, event)

	require.NoError(t, client.SeekAfterEvent(ctx, "orders", "s1", "e1"))
	require.NoError(t, client.Unsubscribe(ctx, "orders", "s1"))
}

func TestClient_NotFound(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusNotFound, ErrorResponse{Error: "Not Found", Message: "unknown topic", Code: 404})
	})

	_, err := client.GetEvent(context.Background(), "missing", "e1")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")

	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestClient_Retry(t *testing.T) {
	t.Run("get_retried_on_unavailable", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				writeJSON(t, w, http.StatusServiceUnavailable, ErrorResponse{Message: "closed"})
				return
			}
			writeJSON(t, w, http.StatusOK, TopicsResponse{Topics: []string{"orders"}})
		})

		topics, err := client.ListTopics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"orders"}, topics)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives_up_after_max_retries", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(t, w, http.StatusServiceUnavailable, ErrorResponse{Message: "closed"})
		})

		_, err := client.ListTopics(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("publish_not_retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(t, w, http.StatusServiceUnavailable, ErrorResponse{Message: "closed"})
		})

		_, err := client.Publish(context.Background(), "orders", PublishRequest{Name: "x"})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("poll_not_retried", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(t, w, http.StatusServiceUnavailable, ErrorResponse{Message: "closed"})
		})

		_, err := client.Poll(context.Background(), "orders", "s1")
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestClient_AdminAndHealth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/health":
			assert.Empty(t, r.Header.Get("Authorization"))
			writeJSON(t, w, http.StatusOK, HealthResponse{Healthy: true, Topics: 2, Message: "ok"})
		case "/api/v1/admin/stats":
			writeJSON(t, w, http.StatusOK, AdminStatsResponse{
				TotalEvents: 10,
				TopicCount:  2,
				Metrics:     map[string]int64{"published": 10},
			})
		}
	})

	health, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, 2, health.Topics)

	stats, err := client.AdminGetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalEvents)
	assert.Equal(t, int64(10), stats.Metrics["published"])
}
