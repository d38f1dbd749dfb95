package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the EventBus server",
		Long: `Authenticate with the EventBus server using your client ID.
This will generate a JWT token that can be used for subsequent requests.
The client ID "admin" receives an admin token.`,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx, cancel := newContext(cmd)
	defer cancel()

	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	token := client.GetToken()
	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "\nYou can now use other commands or save this token for future use:\n")
	fmt.Fprintf(out, "  export %s=\"%s\"\n", envToken, token)
	fmt.Fprintf(out, "  eventbus-cli publish --topic orders --name order.created --attr id=42\n")

	return nil
}

// newContext returns the command context bounded by the global request timeout
func newContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
