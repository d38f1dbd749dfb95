// Package routingtable provides the subscription model and the registry interface that maps
// topics to subscribers.
//
// This package defines the core abstractions for the EventBus routing component:
//   - Subscription: an immutable push or pull subscription to one topic
//   - Handler / Precondition: the delivery function and the optional event filter
//   - Registry: per-topic subscription sets plus one read cursor per subscriber
//
// Push subscriptions carry a Handler that the bus invokes for every published event whose
// Precondition holds. Pull subscriptions carry no handler; the subscriber calls Poll and the
// bus advances its cursor.
//
// Example usage:
//
//	sub := routingtable.NewPushSubscription(orders, "billing", chargeCard).
//		WithPrecondition(func(e eventlog.Event) bool { return e.Name == "order.created" })
//	if err := sub.Validate(); err != nil {
//		return err
//	}
//
//	pull := routingtable.NewPullSubscription(orders, "audit")
//
// Cursor Semantics:
//   - A new subscriber's cursor starts at the topic's log length, so it sees only events
//     published after it subscribed
//   - Cursors only move through the registry, from tasks keyed on (topic, subscriber)
package routingtable
