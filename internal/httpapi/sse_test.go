package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	eventlogpkg "github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
)

// openStream connects to the SSE endpoint and waits for the connection comment, which
// is written once the push subscription exists.
func openStream(t *testing.T, setup *TestServerSetup, token, topic, filter string) (*bufio.Reader, *http.Response, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	path := setup.HTTP.URL + "/api/v1/topics/" + topic + "/stream"
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("Failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	if resp.StatusCode != http.StatusOK {
		return nil, resp, cancel
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read connection comment: %v", err)
	}
	if !strings.HasPrefix(line, ": SSE connection established") {
		t.Fatalf("Unexpected first line %q", line)
	}
	return reader, resp, cancel
}

// nextEvent reads until the next data line and decodes it, skipping comments
func nextEvent(t *testing.T, reader *bufio.Reader) EventMessage {
	t.Helper()

	type result struct {
		msg EventMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var msg EventMessage
				ch <- result{msg: msg, err: json.Unmarshal([]byte(data), &msg)}
				return
			}
		}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Failed to read event: %v", r.err)
		}
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return EventMessage{}
}

func TestStreamEvents(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.Token(t, "streamer", false)
	setup.CreateTopic(t, token, "orders")

	reader, resp, _ := openStream(t, setup, token, "orders", "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected Content-Type 'text/event-stream', got '%s'", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Expected Cache-Control 'no-cache', got '%s'", cc)
	}
	if !strings.HasPrefix(resp.Header.Get("X-Subscriber-Id"), "sse-streamer-") {
		t.Errorf("Unexpected subscriber id %q", resp.Header.Get("X-Subscriber-Id"))
	}

	for _, id := range []string{"1", "2", "3"} {
		publish(t, setup, token, "orders", PublishRequest{ID: id, Name: "order.created"})
	}
	for _, want := range []string{"1", "2", "3"} {
		msg := nextEvent(t, reader)
		if msg.ID != want || msg.Topic != "orders" {
			t.Fatalf("Expected event %s on orders, got %+v", want, msg)
		}
	}
}

func TestStreamEvents_Filter(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.Token(t, "streamer", false)
	setup.CreateTopic(t, token, "orders")

	reader, _, _ := openStream(t, setup, token, "orders", `name == "order.shipped"`)

	publish(t, setup, token, "orders", PublishRequest{ID: "1", Name: "order.created"})
	publish(t, setup, token, "orders", PublishRequest{ID: "2", Name: "order.shipped"})

	if msg := nextEvent(t, reader); msg.ID != "2" {
		t.Errorf("Expected only the shipped event, got %s", msg.ID)
	}
}

func TestStreamEvents_UnsubscribesOnDisconnect(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.Token(t, "streamer", false)
	setup.CreateTopic(t, token, "orders")

	_, _, cancel := openStream(t, setup, token, "orders", "")

	orders := eventlogpkg.NewTopic("orders")
	subs, err := setup.Bus.Subscriptions(orders)
	if err != nil || len(subs) != 1 {
		t.Fatalf("Expected one stream subscription, got %d (%v)", len(subs), err)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		subs, _ = setup.Bus.Subscriptions(orders)
		if len(subs) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Stream subscription was not removed after disconnect")
}

func TestStreamEvents_Errors(t *testing.T) {
	setup := NewTestServerSetup(t)
	token := setup.Token(t, "streamer", false)
	setup.CreateTopic(t, token, "orders")

	_, resp, _ := openStream(t, setup, token, "missing", "")
	expectStatus(t, resp, http.StatusNotFound)

	_, resp, _ = openStream(t, setup, token, "orders", "name ==")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestEventStream_Backpressure(t *testing.T) {
	stream := newEventStream()
	event := eventlogpkg.NewEvent("x", nil)

	for i := 0; i < streamBuffer; i++ {
		if err := stream.deliver(context.Background(), event); err != nil {
			t.Fatalf("Expected buffered delivery, got %v", err)
		}
	}
	if err := stream.deliver(context.Background(), event); err == nil {
		t.Error("Expected a retryable error once the buffer is full")
	}

	stream.close()
	if err := stream.deliver(context.Background(), event); err != nil {
		t.Errorf("Expected deliveries to a closed stream to be dropped, got %v", err)
	}
}
