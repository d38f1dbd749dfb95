package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/eventbus-go/internal/observability"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventbus"
	eventlogpkg "github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

func TestNewServer_Config(t *testing.T) {
	setup := NewTestServerSetup(t)
	assert.Equal(t, ":8081", setup.Server.Addr())

	_, err := NewServer(setup.Bus, Config{Port: "http"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewServer(setup.Bus, Config{PublishRate: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRoot(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodGet, "/", "", nil)
	expectStatus(t, resp, http.StatusOK)

	var info map[string]interface{}
	decodeBody(t, resp, &info)
	assert.Equal(t, "EventBus HTTP API", info["service"])

	resp = setup.Do(t, http.MethodGet, "/nope", "", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = setup.Do(t, http.MethodPut, "/api/v1/topics", setup.Token(t, "c1", false), nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
}

func TestCORSPreflight(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := setup.Do(t, http.MethodOptions, "/api/v1/topics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	setup := NewTestServerSetup(t)
	setup.CreateTopic(t, setup.Token(t, "c1", false), "orders")

	resp := setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	expectStatus(t, resp, http.StatusOK)
	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.Topics)

	require.NoError(t, setup.Bus.Close(context.Background()))
	resp = setup.Do(t, http.MethodGet, "/api/v1/health", "", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestAdminStats(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.Token(t, "c1", false)
	setup.CreateTopic(t, token, "orders")
	publish(t, setup, token, "orders", PublishRequest{ID: "1", Name: "order.created"})
	publish(t, setup, token, "orders", PublishRequest{ID: "2", Name: "order.created"})

	resp := setup.Do(t, http.MethodGet, "/api/v1/admin/stats", token, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = setup.Do(t, http.MethodGet, "/api/v1/admin/stats", setup.Token(t, "admin", true), nil)
	expectStatus(t, resp, http.StatusOK)

	var stats AdminStatsResponse
	decodeBody(t, resp, &stats)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.TopicCount)
	assert.Equal(t, 2, stats.TopicCounts["orders"])
	assert.Equal(t, int64(2), stats.Metrics[observability.MetricPublished])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{eventbus.ErrUnknownTopic, http.StatusNotFound},
		{eventbus.ErrUnknownEvent, http.StatusNotFound},
		{eventbus.ErrUnknownSubscriber, http.StatusNotFound},
		{eventbus.ErrInvalidSubscription, http.StatusBadRequest},
		{eventlogpkg.ErrNegativeMaxCount, http.StatusBadRequest},
		{eventbus.ErrBusClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
