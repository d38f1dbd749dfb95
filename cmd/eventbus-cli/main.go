package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/httpclient"
)

// envToken is read as the default for --token
const envToken = "EVENTBUS_TOKEN"

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventbus-cli",
		Short: "EventBus HTTP API command line interface",
		Long: `eventbus-cli is a command line interface for the EventBus HTTP API.
It provides commands for authentication, topics, publishing, pull subscriptions,
replay, real-time streaming and dead-letter inspection.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "EventBus server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv(envToken), "JWT token (defaults to $"+envToken+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for servers running with noAuth)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newTopicsCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newSubscribeCommand())
	rootCmd.AddCommand(newUnsubscribeCommand())
	rootCmd.AddCommand(newSubscriptionsCommand())
	rootCmd.AddCommand(newPollCommand())
	rootCmd.AddCommand(newSeekCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newReplayCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newDeadLetterCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newHealthCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	// health needs no identity
	if !noAuth && clientID == "" && token == "" && cmd.Name() != "health" {
		return fmt.Errorf("client-id is required (unless using --token or --no-auth)")
	}

	effectiveClientID := clientID
	if effectiveClientID == "" {
		effectiveClientID = "dev-client"
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// The server ignores the token in noAuth mode; this only passes client-side checks
		client.SetToken("no-auth-mode")
	}
	return nil
}

// requireAuthentication checks if the client is authenticated, logging in with the
// client id when no token was given
func requireAuthentication(cmd *cobra.Command) error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if client.IsAuthenticated() {
		return nil
	}

	ctx, cancel := newContext(cmd)
	defer cancel()
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("not authenticated - run 'eventbus-cli auth' first or provide --token: %w", err)
	}
	return nil
}
