package routingtable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

var orders = eventlog.NewTopic("orders")

func noop(context.Context, eventlog.Event) error { return nil }

func TestInMemoryRegistry_Subscribe(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	err := reg.Subscribe(routingtable.NewPullSubscription(orders, "client-1"), eventlog.NewIndex(3))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	subs, err := reg.Subscriptions(orders)
	if err != nil {
		t.Fatalf("Subscriptions failed: %v", err)
	}
	if len(subs) != 1 || subs[0].SubscriberID != "client-1" {
		t.Fatalf("Expected client-1 subscription, got %+v", subs)
	}

	cursor, err := reg.Cursor(orders, "client-1")
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	if cursor.Position() != 3 {
		t.Errorf("Expected cursor 3, got %d", cursor.Position())
	}
}

func TestInMemoryRegistry_Subscribe_UnknownTopic(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()

	err := reg.Subscribe(routingtable.NewPullSubscription(orders, "client-1"), eventlog.Index{})
	if !errors.Is(err, routingtable.ErrUnknownTopic) {
		t.Fatalf("Expected ErrUnknownTopic, got %v", err)
	}
}

func TestInMemoryRegistry_Subscribe_Invalid(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	err := reg.Subscribe(routingtable.NewPushSubscription(orders, "client-1", nil), eventlog.Index{})
	if !errors.Is(err, routingtable.ErrInvalidSubscription) {
		t.Fatalf("Expected ErrInvalidSubscription, got %v", err)
	}
}

func TestInMemoryRegistry_Resubscribe_KeepsCursor(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	reg.Subscribe(routingtable.NewPullSubscription(orders, "client-1"), eventlog.NewIndex(2))
	reg.SetCursor(orders, "client-1", eventlog.NewIndex(5))

	// Replace with a push subscription
	if err := reg.Subscribe(routingtable.NewPushSubscription(orders, "client-1", noop), eventlog.NewIndex(9)); err != nil {
		t.Fatalf("Resubscribe failed: %v", err)
	}

	sub, _ := reg.Subscription(orders, "client-1")
	if sub.Type != routingtable.Push {
		t.Errorf("Expected replaced subscription to be push, got %s", sub.Type)
	}
	cursor, _ := reg.Cursor(orders, "client-1")
	if cursor.Position() != 5 {
		t.Errorf("Expected cursor to be kept at 5, got %d", cursor.Position())
	}
	if reg.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", reg.SubscriberCount())
	}
}

func TestInMemoryRegistry_Unsubscribe(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	reg.Subscribe(routingtable.NewPullSubscription(orders, "client-1"), eventlog.Index{})
	reg.Subscribe(routingtable.NewPullSubscription(orders, "client-2"), eventlog.Index{})

	if err := reg.Unsubscribe(orders, "client-1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	subs, _ := reg.Subscriptions(orders)
	if len(subs) != 1 || subs[0].SubscriberID != "client-2" {
		t.Fatalf("Expected only client-2 left, got %+v", subs)
	}

	if _, err := reg.Cursor(orders, "client-1"); !errors.Is(err, routingtable.ErrUnknownSubscriber) {
		t.Errorf("Expected ErrUnknownSubscriber for removed cursor, got %v", err)
	}
	if err := reg.Unsubscribe(orders, "client-1"); !errors.Is(err, routingtable.ErrUnknownSubscriber) {
		t.Errorf("Expected ErrUnknownSubscriber on second unsubscribe, got %v", err)
	}
}

func TestInMemoryRegistry_SubscriptionOrder(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	for i := 0; i < 5; i++ {
		reg.Subscribe(routingtable.NewPullSubscription(orders, fmt.Sprintf("client-%d", i)), eventlog.Index{})
	}

	subs, _ := reg.Subscriptions(orders)
	for i, sub := range subs {
		if sub.SubscriberID != fmt.Sprintf("client-%d", i) {
			t.Errorf("Position %d holds %s", i, sub.SubscriberID)
		}
	}
}

func TestInMemoryRegistry_Topics(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()

	reg.AddTopic(eventlog.NewTopic("payments"))
	reg.AddTopic(orders)
	reg.AddTopic(orders) // idempotent

	topics := reg.Topics()
	if len(topics) != 2 {
		t.Fatalf("Expected 2 topics, got %d", len(topics))
	}
	if topics[0].Name != "orders" || topics[1].Name != "payments" {
		t.Errorf("Expected sorted topics, got %v", topics)
	}
	if !reg.HasTopic(orders) || reg.HasTopic(eventlog.NewTopic("nope")) {
		t.Error("HasTopic returned wrong result")
	}
}

func TestInMemoryRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewInMemoryRegistry()
	defer reg.Close()
	reg.AddTopic(orders)

	var wg sync.WaitGroup
	const numWorkers = 10

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sub := routingtable.NewPullSubscription(orders, fmt.Sprintf("client-%d", id))
			if err := reg.Subscribe(sub, eventlog.Index{}); err != nil {
				t.Errorf("Subscribe failed for client-%d: %v", id, err)
			}
		}(i)
	}

	wg.Wait()

	if reg.SubscriberCount() != numWorkers {
		t.Fatalf("Expected %d subscribers, got %d", numWorkers, reg.SubscriberCount())
	}
}

func TestInMemoryRegistry_Close(t *testing.T) {
	reg := NewInMemoryRegistry()
	reg.AddTopic(orders)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Second close should be a no-op: %v", err)
	}

	err := reg.Subscribe(routingtable.NewPullSubscription(orders, "client-1"), eventlog.Index{})
	if !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Expected ErrRegistryClosed, got %v", err)
	}
}
