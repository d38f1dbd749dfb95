package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		config       httpclient.StreamConfig
		maxEvents    int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream events from a topic in real-time",
		Long: `Stream events from a topic in real-time using Server-Sent Events.
This opens a push subscription that lives as long as the connection and only
receives events published while connected. Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, config, maxEvents, prettyFormat)
		},
	}

	cmd.Flags().StringVar(&config.Topic, "topic", "", "Topic to stream from (required)")
	cmd.Flags().StringVar(&config.Filter, "filter", "", "CEL filter expression")
	cmd.Flags().StringVar(&config.SubscriberID, "subscriber", "", "Subscriber id (generated by the server when empty)")
	cmd.Flags().IntVar(&config.BufferSize, "buffer-size", 100, "Event buffer size")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "Stop after this many events (0 = until interrupted)")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print attributes")
	markRequired(cmd, "topic")

	return cmd
}

func runStream(cmd *cobra.Command, config httpclient.StreamConfig, maxEvents int, prettyFormat bool) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	// Handle Ctrl+C gracefully
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🌊 Starting event stream from %s (topic: %s)...\n", serverURL, config.Topic)
	fmt.Fprintln(out, "Press Ctrl+C to stop streaming")

	streamClient, err := client.Stream(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer func() {
		if err := streamClient.Close(); err != nil {
			fmt.Fprintf(out, "Warning: failed to close stream client: %v\n", err)
		}
	}()

	eventCount := 0
	errs := streamClient.Errors()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Stream stopped. Received %d events.\n", eventCount)
			return nil

		case event, ok := <-streamClient.Events():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Event stream closed. Received %d events.\n", eventCount)
				return nil
			}

			eventCount++
			printEvent(out, event, eventCount, prettyFormat)
			if maxEvents > 0 && eventCount >= maxEvents {
				fmt.Fprintf(out, "✅ Received %d events.\n", eventCount)
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Errors are non-fatal; the client reconnects
			fmt.Fprintf(out, "❌ Stream error: %v\n", err)
		}
	}
}

func printEvent(out io.Writer, event httpclient.EventMessage, count int, pretty bool) {
	fmt.Fprintf(out, "📨 Event #%d:\n", count)
	fmt.Fprintf(out, "   ID: %s\n", event.ID)
	fmt.Fprintf(out, "   Topic: %s\n", event.Topic)
	fmt.Fprintf(out, "   Name: %s\n", event.Name)
	if event.Index != nil {
		fmt.Fprintf(out, "   Index: %d\n", *event.Index)
	}
	fmt.Fprintf(out, "   Time: %s\n", event.Timestamp.Format("2006-01-02 15:04:05.000"))

	if len(event.Attributes) > 0 {
		var (
			jsonBytes []byte
			err       error
		)
		if pretty {
			jsonBytes, err = json.MarshalIndent(event.Attributes, "   ", "  ")
		} else {
			jsonBytes, err = json.Marshal(event.Attributes)
		}
		if err != nil {
			fmt.Fprintf(out, "   Attributes: %v\n", event.Attributes)
		} else {
			fmt.Fprintf(out, "   Attributes: %s\n", jsonBytes)
		}
	}

	if f := event.Failure; f != nil {
		fmt.Fprintf(out, "   Failure: subscriber %s gave up on %s after %d attempt(s): %s\n",
			f.Subscriber, f.OriginalID, f.Attempts, f.Error)
	}
	fmt.Fprintln(out)
}
