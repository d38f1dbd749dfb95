package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rmacdonaldsmith/eventbus-go/internal/config"
	"github.com/rmacdonaldsmith/eventbus-go/internal/deadletter"
	"github.com/rmacdonaldsmith/eventbus-go/internal/eventbus"
	"github.com/rmacdonaldsmith/eventbus-go/internal/healthcheck"
	"github.com/rmacdonaldsmith/eventbus-go/internal/httpapi"
	"github.com/rmacdonaldsmith/eventbus-go/internal/observability"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

// app wires the bus, its dead-letter sink, the HTTP API and the gRPC health server.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Provider
	health  *healthcheck.Server
	bus     *eventbus.Bus
	http    *httpapi.Server

	// deadLetterBus is set in bus mode
	deadLetterBus *eventbus.Bus
	// pubsub and sink are set in watermill mode
	pubsub *gochannel.GoChannel
	sink   *deadletter.Sink
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewProvider(),
		health:  healthcheck.New(logger),
	}

	metrics, err := observability.NewMetrics(a.metrics.Meter())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	opts := []eventbus.Option{
		eventbus.WithLogger(logger),
		eventbus.WithMetrics(metrics),
		eventbus.WithTopicListener(a.health.TopicRegistered),
	}

	switch cfg.DeadLetter.Mode {
	case config.DeadLetterBus:
		a.deadLetterBus, err = eventbus.New(cfg.EventBus(),
			eventbus.WithLogger(logger.With("bus", "deadletter")),
			eventbus.WithTopicListener(a.watchFailures),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create dead-letter bus: %w", err)
		}
		opts = append(opts, eventbus.WithDeadLetter(a.deadLetterBus))
	case config.DeadLetterWatermill:
		a.pubsub = deadletter.NewGoChannel(cfg.DeadLetter.BufferSize, watermill.NewStdLogger(false, false))
		a.sink = deadletter.NewSink(a.pubsub, deadletter.WithTopic(cfg.DeadLetter.Topic))
		opts = append(opts, eventbus.WithDeadLetter(a.sink))
	}

	a.bus, err = eventbus.New(cfg.EventBus(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	httpOpts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(a.metrics),
	}
	if a.deadLetterBus != nil {
		httpOpts = append(httpOpts, httpapi.WithDeadLetterBus(a.deadLetterBus))
	}
	a.http, err = httpapi.NewServer(a.bus, cfg.HTTPAPI(), httpOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP API: %w", err)
	}
	return a, nil
}

// registerTopics registers the configured topics.
func (a *app) registerTopics(ctx context.Context) error {
	for _, name := range a.cfg.Topics {
		if err := a.bus.RegisterTopic(ctx, eventlog.NewTopic(name)); err != nil {
			return fmt.Errorf("failed to register topic %s: %w", name, err)
		}
	}
	return nil
}

// failureLogger is the push subscriber that logs every topic of the dead-letter bus
const failureLogger = "failure-log"

// watchFailures subscribes the failure log to a topic newly registered on the dead-letter bus.
func (a *app) watchFailures(topic eventlog.Topic) {
	sub := routingtable.NewPushSubscription(topic, failureLogger, func(_ context.Context, event eventlog.Event) error {
		return a.logFailure(topic, event)
	})
	ctx := context.Background()
	if _, err := a.deadLetterBus.Subscribe(ctx, sub).Await(ctx); err != nil {
		a.logger.Error("failed to watch dead-letter topic", "topic", topic.Name, "error", err)
	}
}

// logFailure reports a failure event recorded on the dead-letter bus or read back from
// the Watermill dead-letter topic.
func (a *app) logFailure(topic eventlog.Topic, event eventlog.Event) error {
	if !event.IsFailure() {
		a.logger.Warn("unexpected event on dead-letter topic", "topic", topic.Name, "event_id", event.ID)
		return nil
	}
	a.logger.Warn("delivery dead-lettered",
		"topic", topic.Name,
		"event_id", event.Failure.OriginalID,
		"subscriber", event.Failure.Subscriber,
		"attempts", event.Failure.Attempts,
		"error", event.Failure.Error,
	)
	return nil
}

// run serves until ctx is done, then shuts everything down within the configured timeout.
func (a *app) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.Server.HealthAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Server.HealthAddress, err)
	}
	return a.serve(ctx, lis)
}

// serve is run with the health listener already bound.
func (a *app) serve(ctx context.Context, healthLis net.Listener) error {
	if err := a.registerTopics(ctx); err != nil {
		healthLis.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if a.sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := deadletter.Consume(ctx, a.pubsub, a.sink.Topic(), a.logFailure); err != nil {
				a.logger.Error("dead-letter consumer stopped", "error", err)
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.health.Serve(healthLis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := a.http.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP API failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errCh:
		a.logger.Error("listener failed, shutting down", "error", runErr)
	}
	cancel()

	shutdownErr := a.shutdown()
	wg.Wait()
	return errors.Join(runErr, shutdownErr)
}

// shutdown stops intake first, then drains the bus and finally its dead-letter sink.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	a.health.Shutdown()
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop HTTP API: %w", err))
	}
	if err := a.bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
	}
	if a.deadLetterBus != nil {
		if err := a.deadLetterBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close dead-letter bus: %w", err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close dead-letter pub/sub: %w", err))
		}
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down metrics: %w", err))
	}
	return errors.Join(errs...)
}
