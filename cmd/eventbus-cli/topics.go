package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List and create topics",
		Long:  `Commands for managing topics. Without a subcommand, lists the registered topics.`,
		RunE:  runTopicsList,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered topics",
		RunE:  runTopicsList,
	})
	cmd.AddCommand(newTopicsCreateCommand())

	return cmd
}

func newTopicsCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <topic>",
		Short: "Register a topic",
		Long:  `Register a topic. Registering a topic that already exists succeeds.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopicsCreate(cmd, args[0])
		},
	}

	return cmd
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	topics, err := client.ListTopics(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(topics) == 0 {
		fmt.Fprintln(out, "📭 No topics registered")
		return nil
	}
	fmt.Fprintf(out, "Found %d topic(s):\n", len(topics))
	for _, topic := range topics {
		fmt.Fprintf(out, "  %s\n", topic)
	}
	return nil
}

func runTopicsCreate(cmd *cobra.Command, topic string) error {
	if err := requireAuthentication(cmd); err != nil {
		return err
	}

	ctx, cancel := newContext(cmd)
	defer cancel()

	if err := client.CreateTopic(ctx, topic); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Topic '%s' registered\n", topic)
	return nil
}
