package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSubscriptionsCommand() *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List the subscriptions of a topic",
		Long:  "List the push and pull subscriptions of a topic, including open streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(cmd); err != nil {
				return err
			}

			ctx, cancel := newContext(cmd)
			defer cancel()

			subscriptions, err := client.ListSubscriptions(ctx, topic)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(subscriptions) == 0 {
				fmt.Fprintf(out, "No subscriptions on topic '%s'\n", topic)
				return nil
			}

			fmt.Fprintf(out, "Found %d subscription(s) on '%s':\n\n", len(subscriptions), topic)
			for i, sub := range subscriptions {
				fmt.Fprintf(out, "%d. %s (%s)\n", i+1, sub.SubscriberID, sub.Type)
				if sub.Filter != "" {
					fmt.Fprintf(out, "   Filter: %s\n", sub.Filter)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic (required)")
	markRequired(cmd, "topic")

	return cmd
}

func newPollCommand() *cobra.Command {
	var (
		topic        string
		subscriber   string
		count        int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Read the next events of a pull subscriber",
		Long: `Poll a pull subscriber up to --count times, advancing its position by one
event per successful poll. Stops early when no further event is available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(cmd); err != nil {
				return err
			}

			ctx, cancel := newContext(cmd)
			defer cancel()

			out := cmd.OutOrStdout()
			received := 0
			for received < count {
				event, err := client.Poll(ctx, topic, subscriber)
				if err != nil {
					return err
				}
				if event == nil {
					break
				}
				received++
				printEvent(out, *event, received, prettyFormat)
			}

			if received == 0 {
				fmt.Fprintf(out, "📭 No new events for '%s' on '%s'\n", subscriber, topic)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic (required)")
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "Pull subscriber id (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Maximum number of events to poll")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print attributes")
	markRequired(cmd, "topic", "subscriber")

	return cmd
}

func newSeekCommand() *cobra.Command {
	var (
		topic      string
		subscriber string
		afterEvent string
		afterTime  string
	)

	cmd := &cobra.Command{
		Use:   "seek",
		Short: "Move a pull subscriber",
		Long: `Move a pull subscriber so that its next poll returns the first event
published after the given event (--after-event) or timestamp (--after-time).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAuthentication(cmd); err != nil {
				return err
			}

			ctx, cancel := newContext(cmd)
			defer cancel()

			var err error
			if afterEvent != "" {
				err = client.SeekAfterEvent(ctx, topic, subscriber, afterEvent)
			} else {
				var ts time.Time
				if ts, err = time.Parse(time.RFC3339Nano, afterTime); err != nil {
					return fmt.Errorf("invalid --after-time %q: %w", afterTime, err)
				}
				err = client.SeekAfterTimestamp(ctx, topic, subscriber, ts)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✅ Subscriber '%s' repositioned on '%s'\n", subscriber, topic)
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic (required)")
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "Pull subscriber id (required)")
	cmd.Flags().StringVar(&afterEvent, "after-event", "", "Continue after this event id")
	cmd.Flags().StringVar(&afterTime, "after-time", "", "Continue after this RFC3339 timestamp")
	markRequired(cmd, "topic", "subscriber")
	cmd.MarkFlagsMutuallyExclusive("after-event", "after-time")
	cmd.MarkFlagsOneRequired("after-event", "after-time")

	return cmd
}
