package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/eventbus-go/internal/retry"
	"github.com/rmacdonaldsmith/eventbus-go/internal/routingtable"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventbus"
	eventlogpkg "github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	routingtablepkg "github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

const (
	defaultReadLimit = 100
	maxReadLimit     = 1000

	// streamBuffer is the number of events an SSE client may fall behind before
	// deliveries to it are retried
	streamBuffer = 64
)

var errStreamBackpressure = errors.New("stream client is not keeping up")

// MetricsSource exposes collected metric totals for the admin statistics endpoint.
type MetricsSource interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	bus       eventbus.EventBus
	filters   *routingtable.FilterCompiler
	jwtAuth   *JWTAuth
	metrics   MetricsSource
	logger    *slog.Logger
	keepalive time.Duration
}

// NewHandlers creates a new handlers instance. metrics may be nil.
func NewHandlers(bus eventbus.EventBus, filters *routingtable.FilterCompiler, jwtAuth *JWTAuth, metrics MetricsSource, logger *slog.Logger, keepalive time.Duration) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &Handlers{
		bus:       bus,
		filters:   filters,
		jwtAuth:   jwtAuth,
		metrics:   metrics,
		logger:    logger,
		keepalive: keepalive,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// clientId based authentication; "admin" receives admin rights
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Topic endpoints

// ListTopics handles GET /api/v1/topics
func (h *Handlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	topics := h.bus.Topics()
	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		names = append(names, topic.Name)
	}
	writeJSON(w, TopicsResponse{Topics: names}, http.StatusOK)
}

// CreateTopic handles POST /api/v1/topics
func (h *Handlers) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req TopicRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateTopic(req.Name); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.bus.RegisterTopic(r.Context(), eventlogpkg.NewTopic(req.Name)); err != nil {
		h.writeBusError(w, "Failed to register topic", err)
		return
	}
	writeJSON(w, TopicRequest{Name: req.Name}, http.StatusCreated)
}

// Event endpoints

// PublishEvent handles POST /api/v1/topics/{topic}/events
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	var req PublishRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	// The id is assigned here rather than by the bus so it can be returned
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	event := eventlogpkg.NewEventWithID(id, req.Name, req.Attributes, ts)

	idx, err := h.bus.Publish(r.Context(), topic, event).Await(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to publish event", err)
		return
	}

	writeJSON(w, PublishResponse{
		EventID: id,
		Topic:   topic.Name,
		Index:   idx.Position(),
	}, http.StatusCreated)
}

// ReadEvents handles GET /api/v1/topics/{topic}/events?from={index}&limit={n}
func (h *Handlers) ReadEvents(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	from, err := queryInt(r, "from", 0)
	if err != nil || from < 0 {
		writeError(w, "from must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultReadLimit)
	if err != nil || limit < 0 {
		writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	if limit > maxReadLimit {
		limit = maxReadLimit
	}

	start := eventlogpkg.NewIndex(int64(from))
	events, err := h.bus.ReadEvents(r.Context(), topic, start, limit).Await(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to read events", err)
		return
	}

	messages := make([]EventMessage, 0, len(events))
	idx := start
	for _, event := range events {
		messages = append(messages, NewEventMessage(topic, event).WithIndex(idx))
		idx = idx.Increment()
	}

	writeJSON(w, ReadEventsResponse{
		Events: messages,
		Topic:  topic.Name,
		From:   int64(from),
		Count:  len(messages),
	}, http.StatusOK)
}

// GetEvent handles GET /api/v1/topics/{topic}/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	event, err := h.bus.GetEvent(r.Context(), topic, chi.URLParam(r, "id")).Await(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to get event", err)
		return
	}
	writeJSON(w, NewEventMessage(topic, event), http.StatusOK)
}

// Subscription endpoints

// ListSubscriptions handles GET /api/v1/topics/{topic}/subscriptions
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	subs, err := h.bus.Subscriptions(topic)
	if err != nil {
		h.writeBusError(w, "Failed to list subscriptions", err)
		return
	}

	resp := SubscriptionsListResponse{Subscriptions: make([]SubscriptionResponse, 0, len(subs))}
	for _, sub := range subs {
		resp.Subscriptions = append(resp.Subscriptions, subscriptionResponse(sub))
	}
	writeJSON(w, resp, http.StatusOK)
}

// CreateSubscription handles POST /api/v1/topics/{topic}/subscriptions. HTTP clients
// subscribe in pull mode; push delivery is available through the stream endpoint.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	var req SubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SubscriberID == "" {
		writeError(w, "subscriberId is required", http.StatusBadRequest)
		return
	}

	sub := routingtablepkg.NewPullSubscription(topic, req.SubscriberID)
	if req.Filter != "" {
		pre, err := h.filters.Compile(req.Filter)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sub = sub.WithFilter(req.Filter, pre)
	}

	if _, err := h.bus.Subscribe(r.Context(), sub).Await(r.Context()); err != nil {
		h.writeBusError(w, "Failed to subscribe", err)
		return
	}
	writeJSON(w, subscriptionResponse(sub), http.StatusCreated)
}

// DeleteSubscription handles DELETE /api/v1/topics/{topic}/subscriptions/{subscriber}
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	_, err := h.bus.Unsubscribe(r.Context(), topic, chi.URLParam(r, "subscriber")).Await(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to unsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Poll handles GET /api/v1/topics/{topic}/subscriptions/{subscriber}/poll.
// It answers 204 when no event is available.
func (h *Handlers) Poll(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	event, err := h.bus.Poll(r.Context(), topic, chi.URLParam(r, "subscriber")).Await(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to poll", err)
		return
	}
	if event == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, NewEventMessage(topic, *event), http.StatusOK)
}

// Seek handles POST /api/v1/topics/{topic}/subscriptions/{subscriber}/seek
func (h *Handlers) Seek(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	var req SeekRequest
	if !h.decode(w, r, &req) {
		return
	}
	if (req.AfterTimestamp == nil) == (req.AfterEvent == "") {
		writeError(w, "exactly one of afterTimestamp and afterEvent is required", http.StatusBadRequest)
		return
	}

	subscriber := chi.URLParam(r, "subscriber")
	var future *eventbus.Future[struct{}]
	if req.AfterTimestamp != nil {
		future = h.bus.SetIndexAfterTimestamp(r.Context(), topic, subscriber, *req.AfterTimestamp)
	} else {
		future = h.bus.SetIndexAfterEvent(r.Context(), topic, subscriber, req.AfterEvent)
	}

	if _, err := future.Await(r.Context()); err != nil {
		h.writeBusError(w, "Failed to reposition subscriber", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents handles GET /api/v1/topics/{topic}/stream?filter={expr}.
// The connection holds a push subscription for its lifetime and receives every
// delivered event as a server-sent event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	topic, ok := h.topic(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := r.URL.Query().Get("filter")
	pre, err := h.filters.Compile(filter)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	subscriberID := r.URL.Query().Get("subscriber")
	if subscriberID == "" {
		subscriberID = fmt.Sprintf("sse-%s-%s", GetClientID(r), uuid.NewString())
	}

	stream := newEventStream()
	sub := routingtablepkg.NewPushSubscription(topic, subscriberID, stream.deliver)
	if filter != "" {
		sub = sub.WithFilter(filter, pre)
	}

	// Subscribe before the first byte is written so errors still get a status code
	if _, err := h.bus.Subscribe(r.Context(), sub).Await(r.Context()); err != nil {
		h.writeBusError(w, "Failed to subscribe to topic", err)
		return
	}

	logger := h.logger.With("topic", topic.Name, "subscriber", subscriberID)
	defer func() {
		stream.close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := h.bus.Unsubscribe(ctx, topic, subscriberID).Await(ctx); err != nil {
			logger.Warn("failed to remove stream subscription", "error", err)
		}
		logger.Debug("stream closed")
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Subscriber-Id", subscriberID)
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": SSE connection established for topic: %s\n\n", topic.Name)
	flusher.Flush()
	logger.Debug("stream opened")

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case event := <-stream.events:
			if err := writeSSEMessage(w, NewEventMessage(topic, event)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Admin endpoints

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bus.Statistics(r.Context())
	if err != nil {
		h.writeBusError(w, "Failed to get statistics", err)
		return
	}

	topicCounts := make(map[string]int, len(stats.TopicCounts))
	for name, count := range stats.TopicCounts {
		topicCounts[name] = int(count)
	}
	resp := AdminStatsResponse{
		TotalEvents:     int(stats.TotalEvents),
		TopicCount:      stats.TopicCount,
		TopicCounts:     topicCounts,
		SubscriberCount: stats.SubscriberCount,
		Delivered:       stats.Delivered,
		Retries:         stats.Retries,
		DeadLettered:    stats.DeadLettered,
	}

	if h.metrics != nil {
		snapshot, err := h.metrics.Snapshot(r.Context())
		if err != nil {
			h.logger.Warn("failed to collect metrics", "error", err)
		} else {
			resp.Metrics = snapshot
		}
	}

	writeJSON(w, resp, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bus.Statistics(r.Context())
	if err != nil {
		writeJSON(w, HealthResponse{
			Healthy: false,
			Message: err.Error(),
		}, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, HealthResponse{
		Healthy: true,
		Topics:  stats.TopicCount,
		Message: "ok",
	}, http.StatusOK)
}

// Helper methods

// topic reads and validates the {topic} path parameter
func (h *Handlers) topic(w http.ResponseWriter, r *http.Request) (eventlogpkg.Topic, bool) {
	name := chi.URLParam(r, "topic")
	if err := validateTopic(name); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return eventlogpkg.Topic{}, false
	}
	return eventlogpkg.NewTopic(name), true
}

// decode parses a JSON request body into v, writing a 400 on failure
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeBusError maps bus errors to HTTP status codes
func (h *Handlers) writeBusError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(message, "error", err)
	}
	writeError(w, fmt.Sprintf("%s: %v", message, err), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, eventbus.ErrUnknownTopic),
		errors.Is(err, eventbus.ErrUnknownEvent),
		errors.Is(err, eventbus.ErrUnknownSubscriber):
		return http.StatusNotFound
	case errors.Is(err, eventbus.ErrInvalidSubscription),
		errors.Is(err, eventlogpkg.ErrNegativeMaxCount):
		return http.StatusBadRequest
	case errors.Is(err, eventbus.ErrBusClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func subscriptionResponse(sub routingtablepkg.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		Topic:        sub.Topic.Name,
		SubscriberID: sub.SubscriberID,
		Type:         sub.Type.String(),
		Filter:       sub.Filter,
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// validateJSON validates that the request has valid JSON content-type
func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	return nil
}

// validateTopic validates topic name format
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if len(topic) < 2 {
		return fmt.Errorf("topic must be at least 2 characters")
	}
	// letters, numbers, dots, hyphens, underscores
	for _, char := range topic {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '.' || char == '-' || char == '_') {
			return fmt.Errorf("topic contains invalid characters (allowed: letters, numbers, ., -, _)")
		}
	}
	return nil
}

// writeSSEMessage writes an EventMessage as a properly formatted SSE data message
func writeSSEMessage(w http.ResponseWriter, message EventMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", message.ID, jsonData)
	return err
}

// eventStream hands push deliveries from a bus lane to an SSE connection
type eventStream struct {
	events chan eventlogpkg.Event
	done   chan struct{}
	once   sync.Once
}

func newEventStream() *eventStream {
	return &eventStream{
		events: make(chan eventlogpkg.Event, streamBuffer),
		done:   make(chan struct{}),
	}
}

// deliver is the push handler. A full buffer is reported as retryable so the bus
// backs off instead of blocking its lane; events for a closed stream are dropped.
func (s *eventStream) deliver(_ context.Context, event eventlogpkg.Event) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case s.events <- event:
		return nil
	case <-s.done:
		return nil
	default:
		return retry.Retryable(errStreamBackpressure)
	}
}

func (s *eventStream) close() {
	s.once.Do(func() { close(s.done) })
}
