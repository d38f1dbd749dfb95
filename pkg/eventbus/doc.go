// Package eventbus defines the contract of an in-process, topic-partitioned
// publish/subscribe bus.
//
// A bus holds one append-only log per registered topic. Publishers append events;
// subscribers either receive them through a handler (push) or fetch them one at a time
// with Poll (pull). Each subscriber has its own cursor into the topic log, which starts
// at the end of the log when it subscribes and can be moved with SetIndexAfterTimestamp
// or SetIndexAfterEvent.
//
// Push deliveries are retried according to the bus retry policy. A delivery that fails
// on every attempt, or fails with an error not marked retryable, becomes a failure event
// handed to the DeadLetterSink under the original topic name.
//
// Every operation returns a Future:
//
//	orders := eventlog.NewTopic("orders")
//	if err := bus.RegisterTopic(ctx, orders); err != nil {
//		return err
//	}
//
//	sub := routingtable.NewPullSubscription(orders, "billing")
//	if _, err := bus.Subscribe(ctx, sub).Await(ctx); err != nil {
//		return err
//	}
//
//	idx, err := bus.Publish(ctx, orders, eventlog.NewEvent("order.created", attrs)).Await(ctx)
//
//	event, err := bus.Poll(ctx, orders, "billing").Await(ctx)
//	if event == nil {
//		// nothing new yet
//	}
//
// The implementation lives in internal/eventbus.
package eventbus
