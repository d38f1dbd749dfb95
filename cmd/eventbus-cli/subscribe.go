package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubscribeCommand() *cobra.Command {
	var (
		topic      string
		subscriber string
		filter     string
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create a pull subscription on a topic",
		Long: `Create a pull subscription. The subscriber starts at the end of the topic
and receives only events published afterwards; use 'poll' to read them and 'seek'
to move its position. The optional filter is a CEL expression over id, name,
attributes and timestamp.`,
		Example: `  eventbus-cli subscribe --topic orders --subscriber billing --filter 'attributes["region"] == "eu"'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(cmd); err != nil {
				return err
			}

			ctx, cancel := newContext(cmd)
			defer cancel()

			sub, err := client.Subscribe(ctx, topic, subscriber, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Subscribed '%s' to topic '%s' (%s)\n", sub.SubscriberID, sub.Topic, sub.Type)
			if sub.Filter != "" {
				fmt.Fprintf(out, "Filter: %s\n", sub.Filter)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to subscribe to (required)")
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "Subscriber id (required)")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression")
	markRequired(cmd, "topic", "subscriber")

	return cmd
}

func newUnsubscribeCommand() *cobra.Command {
	var topic, subscriber string

	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Remove a subscriber from a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(cmd); err != nil {
				return err
			}

			ctx, cancel := newContext(cmd)
			defer cancel()

			if err := client.Unsubscribe(ctx, topic, subscriber); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Subscriber '%s' removed from topic '%s'\n", subscriber, topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic (required)")
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "Subscriber id (required)")
	markRequired(cmd, "topic", "subscriber")

	return cmd
}

func markRequired(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", flag, err))
		}
	}
}
