package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/httpclient"
)

func newPublishCommand() *cobra.Command {
	var (
		topic      string
		name       string
		id         string
		timestamp  string
		attributes map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to a topic",
		Long: `Publish an event to a topic. Attributes are given as key=value pairs.
The server assigns an id and timestamp when they are not provided.`,
		Example: `  eventbus-cli publish --topic orders --name order.created --attr id=42 --attr region=eu`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpclient.PublishRequest{ID: id, Name: name, Attributes: attributes}
			if timestamp != "" {
				ts, err := time.Parse(time.RFC3339Nano, timestamp)
				if err != nil {
					return fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
				}
				req.Timestamp = &ts
			}
			return runPublish(cmd, topic, req)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Event name, e.g. order.created (required)")
	cmd.Flags().StringVar(&id, "id", "", "Event id (assigned by the server when empty)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Event timestamp in RFC3339 (now when empty)")
	cmd.Flags().StringToStringVar(&attributes, "attr", nil, "Event attribute as key=value (repeatable)")
	markRequired(cmd, "topic", "name")

	return cmd
}

func runPublish(cmd *cobra.Command, topic string, req httpclient.PublishRequest) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing %s to topic '%s'...\n", req.Name, topic)

	response, err := client.Publish(ctx, topic, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Event published successfully!\n")
	fmt.Fprintf(out, "Event ID: %s\n", response.EventID)
	fmt.Fprintf(out, "Index: %d\n", response.Index)
	return nil
}
