package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/galaxyproject/galaxy-mcp/security"
)

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a session secret for sealing OAuth tokens",
		Long: `Prints a random secret for GALAXY_MCP_SESSION_SECRET or --session-secret.

Without a configured secret every restart invalidates all issued tokens.
Replicas behind one public URL must share the same secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := security.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
