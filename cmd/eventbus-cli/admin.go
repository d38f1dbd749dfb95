package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show system statistics (requires an admin token)",
		Long:  "Display EventBus statistics and metrics. Authenticate with --client-id admin.",
		RunE:  runStats,
	}

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	stats, err := client.AdminGetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "📊 EventBus Statistics:")
	fmt.Fprintf(out, "   Total events: %d\n", stats.TotalEvents)
	fmt.Fprintf(out, "   Topics: %d\n", stats.TopicCount)
	fmt.Fprintf(out, "   Subscribers: %d\n", stats.SubscriberCount)
	fmt.Fprintf(out, "   Delivered: %d\n", stats.Delivered)
	fmt.Fprintf(out, "   Retries: %d\n", stats.Retries)
	fmt.Fprintf(out, "   Dead-lettered: %d\n", stats.DeadLettered)

	if len(stats.TopicCounts) > 0 {
		fmt.Fprintln(out, "\n   Events per topic:")
		for _, topic := range sortedKeys(stats.TopicCounts) {
			fmt.Fprintf(out, "     %s: %d\n", topic, stats.TopicCounts[topic])
		}
	}
	if len(stats.Metrics) > 0 {
		fmt.Fprintln(out, "\n   Metrics:")
		for _, name := range sortedKeys(stats.Metrics) {
			fmt.Fprintf(out, "     %s: %d\n", name, stats.Metrics[name])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
