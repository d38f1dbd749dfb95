package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/eventbus-go/internal/retry"
	eventlogpkg "github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	routingtablepkg "github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

var (
	// ErrHandlerPanic wraps a panic raised by a push handler. It is never retried.
	ErrHandlerPanic = errors.New("handler panicked")
)

// shutdownPublishTimeout bounds the dead-letter publish of a delivery cut short by Close
const shutdownPublishTimeout = 5 * time.Second

// scheduleDelivery queues the push delivery of event to sub on the subscriber's lane.
// Called from the topic worker; the lane executor queue is unbounded so this never blocks.
func (b *Bus) scheduleDelivery(sub routingtablepkg.Subscription, event eventlogpkg.Event, idx eventlogpkg.Index) {
	b.laneExec.Submit(laneKey(sub.Topic, sub.SubscriberID), func() error {
		b.deliver(sub, event, idx)
		return nil
	})
}

// deliver runs the handler of sub under the retry policy. Every outcome stays inside this
// task: success advances the cursor, anything else becomes a failure event.
func (b *Bus) deliver(sub routingtablepkg.Subscription, event eventlogpkg.Event, idx eventlogpkg.Index) {
	ctx := b.deliveryCtx
	topic := sub.Topic
	logger := b.logger.With("topic", topic.Name, "subscriber", sub.SubscriberID, "event_id", event.ID)
	start := time.Now()

	policy := b.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		b.retries.Add(1)
		b.metrics.DeliveryRetried(ctx, topic.Name, sub.SubscriberID)
		logger.Warn("delivery failed, retrying", "attempt", attempt, "backoff", wait, "error", err)
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context, e eventlogpkg.Event) (struct{}, error) {
		return struct{}{}, invoke(ctx, sub.Handler, e)
	}, event)

	if err == nil {
		b.delivered.Add(1)
		b.metrics.EventDelivered(ctx, topic.Name, sub.SubscriberID, time.Since(start))
		b.advanceCursor(topic, sub.SubscriberID, idx)
		return
	}

	reason := "terminal"
	cause := err
	var (
		limit       *retry.LimitExceededError
		interrupted *retry.InterruptedError
	)
	switch {
	case errors.As(err, &limit):
		reason = "exhausted"
		cause = limit.Last
	case errors.As(err, &interrupted):
		reason = "shutdown"
		cause = fmt.Errorf("interrupted by shutdown: %w", interrupted.Last)
	}

	b.deadLettered.Add(1)
	b.metrics.EventDeadLettered(ctx, topic.Name, sub.SubscriberID, reason, time.Since(start))
	b.advanceCursor(topic, sub.SubscriberID, idx)

	attempts := retry.Attempts(err)
	if event.IsFailure() {
		// Dead-lettering a failure event again could loop between buses
		logger.Error("delivery of failure event failed", "attempts", attempts, "error", cause)
		return
	}
	if b.deadLetter == nil {
		logger.Error("delivery failed, no dead-letter sink configured", "reason", reason, "attempts", attempts, "error", cause)
		return
	}

	failure := eventlogpkg.NewFailureEvent(event, sub.SubscriberID, cause, attempts, b.now())
	publishCtx, cancel := ctx, context.CancelFunc(func() {})
	if ctx.Err() != nil {
		publishCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownPublishTimeout)
	}
	defer cancel()
	if err := b.deadLetter.PublishFailure(publishCtx, topic, failure); err != nil {
		logger.Error("failed to publish failure event", "failure_id", failure.ID, "error", err)
		return
	}
	logger.Info("delivery dead-lettered", "reason", reason, "attempts", attempts, "failure_id", failure.ID)
}

// advanceCursor moves a push subscriber's cursor past idx. The cursor never moves
// backwards here; an unsubscribed subscriber is ignored.
func (b *Bus) advanceCursor(topic eventlogpkg.Topic, subscriberID string, idx eventlogpkg.Index) {
	cursor, err := b.registry.Cursor(topic, subscriberID)
	if err != nil {
		return
	}
	next := idx.Increment()
	if cursor.Before(next) {
		_ = b.registry.SetCursor(topic, subscriberID, next)
	}
}

// invoke calls handler, converting a panic into a non-retryable error.
func invoke(ctx context.Context, handler routingtablepkg.Handler, event eventlogpkg.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, event.Copy())
}
