package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/cliapp"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

// Command groups credential vault helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Resolve, probe and invalidate pool project credentials",
	}

	cmd.AddCommand(resolveCommand())
	cmd.AddCommand(testCommand())
	cmd.AddCommand(clearCacheCommand())
	return cmd
}

func resolveCommand() *cobra.Command {
	var fresh bool

	c := &cobra.Command{
		Use:   "resolve <projectId>",
		Short: "Resolve the Firebase browser config of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				if fresh {
					if err := app.Lifecycle.ClearCredentialCache(ctx, args[0]); err != nil {
						return err
					}
				}
				cred, err := app.Lifecycle.ResolveCredentials(ctx, args[0])
				if err != nil {
					return err
				}
				return cliapp.PrintJSON(cmd, cred)
			})
		},
	}

	c.Flags().BoolVar(&fresh, "fresh", false, "drop the cached entry first")
	return c
}

func testCommand() *cobra.Command {
	var apiKey string

	c := &cobra.Command{
		Use:   "test <projectId>",
		Short: "Probe an API key against Identity Toolkit",
		Long:  "Probes --api-key, or the key the vault resolves for the project when the flag is omitted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				check, err := app.Lifecycle.TestCredentials(ctx, args[0], strings.TrimSpace(apiKey))
				if err != nil {
					return err
				}
				return cliapp.PrintJSON(cmd, check)
			})
		},
	}

	c.Flags().StringVar(&apiKey, "api-key", "", "key to probe")
	return c
}

func clearCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache [projectId]",
		Short: "Invalidate cached credentials for one project, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := ""
			if len(args) == 1 {
				projectID = args[0]
			}
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				if err := app.Lifecycle.ClearCredentialCache(ctx, projectID); err != nil {
					return err
				}
				if projectID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "credential cache cleared")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "credential cache cleared for %s\n", projectID)
				}
				return nil
			})
		},
	}
}
