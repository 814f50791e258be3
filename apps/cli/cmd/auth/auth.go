package auth

import "github.com/spf13/cobra"

// Command groups operator token helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Operator token helpers for local development",
	}

	cmd.AddCommand(devTokenCommand())
	return cmd
}
