package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/cliapp"
)

// rootCmd is the base command for poolctl. Subcommands (slots, credentials, teardown, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "poolctl",
	Short:         "Tenant pool operator CLI",
	Long:          "Operator utilities for the tenant pool (bootstrap, slot maintenance, credentials, deployments, teardown, reconciliation).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cliapp.BindFlags(rootCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the CLI with ctx available to every command.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
