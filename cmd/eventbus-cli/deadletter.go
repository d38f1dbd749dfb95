package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeadLetterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect failure events of abandoned push deliveries",
		Long: `Read the server's dead-letter bus. Every push delivery that failed terminally or ran
out of retries is recorded there as a failure event under the original topic name.
Requires a server running with the "bus" dead-letter mode.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "topics",
		Short: "List topics of the dead-letter bus",
		RunE:  runDeadLetterTopics,
	})
	cmd.AddCommand(newDeadLetterReadCommand())

	return cmd
}

func newDeadLetterReadCommand() *cobra.Command {
	var (
		from         int64
		limit        int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "read <topic>",
		Short: "Print failure events recorded for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetterRead(cmd, args[0], from, limit, prettyFormat)
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Index of the first failure event")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of failure events (max 1000)")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print attributes")

	return cmd
}

func runDeadLetterTopics(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	topics, err := client.ListDeadLetterTopics(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(topics) == 0 {
		fmt.Fprintln(out, "📭 No dead-letter topics")
		return nil
	}
	fmt.Fprintf(out, "Found %d dead-letter topic(s):\n", len(topics))
	for _, topic := range topics {
		fmt.Fprintf(out, "  %s\n", topic)
	}
	return nil
}

func runDeadLetterRead(cmd *cobra.Command, topic string, from int64, limit int, prettyFormat bool) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	page, err := client.ReadDeadLetters(ctx, topic, from, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(page.Events) == 0 {
		fmt.Fprintf(out, "✅ No failure events for topic '%s' starting from index %d\n", topic, from)
		return nil
	}
	for i, event := range page.Events {
		printEvent(out, event, i+1, prettyFormat)
	}
	fmt.Fprintf(out, "⚠️  %d failure event(s) for topic '%s'\n", len(page.Events), topic)
	return nil
}
