package slots

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/cliapp"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

// Command groups operator actions on pool slots.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Inspect and manage pool slots",
	}

	cmd.AddCommand(listCommand())
	cmd.AddCommand(setStatusCommand())
	cmd.AddCommand(releaseCommand())
	cmd.AddCommand(clearFlagCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var (
		status string
		asJSON bool
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List slots, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *pool.Status
			if status != "" {
				parsed, err := pool.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = &parsed
			}

			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				slots, err := app.Lifecycle.ListSlots(ctx, filter)
				if err != nil {
					return err
				}
				if asJSON {
					return cliapp.PrintJSON(cmd, slots)
				}
				return printTable(cmd, slots)
			})
		},
	}

	c.Flags().StringVar(&status, "status", "", "available | in-use | maintenance | deprecated")
	c.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return c
}

func printTable(cmd *cobra.Command, slots []pool.Slot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tPROJECT\tSTATUS\tCHATBOT\tDEPLOYED\tURL")
	for _, s := range slots {
		deployed := "-"
		if s.DeployedAt != nil {
			deployed = s.DeployedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.SlotID, s.ProjectID, s.Status, orDash(s.ChatbotID), deployed, orDash(s.DeploymentURL))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func setStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <slotId> <status>",
		Short: "Move a slot to maintenance, deprecated or back to available",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := pool.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				slot, err := app.Lifecycle.SetSlotStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return cliapp.PrintJSON(cmd, slot)
			})
		},
	}
}

func releaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <slotId>",
		Short: "Clear the central record, then the slot flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				slot, err := app.Lifecycle.ReleaseSlot(ctx, args[0])
				if err != nil {
					return err
				}
				return cliapp.PrintJSON(cmd, slot)
			})
		},
	}
}

func clearFlagCommand() *cobra.Command {
	var confirmed bool

	c := &cobra.Command{
		Use:   "clear-flag <slotId>",
		Short: "Force a slot flag back to available after forensic review",
		Long: "Overwrites the in-use flag stored in the slot's own project. Only run this after " +
			"confirming no tenant is served from the slot; reconcile reports the slots that need review.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("refusing to clear the flag without --confirm")
			}
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				if err := app.Lifecycle.ClearSlotFlag(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "flag of %s cleared\n", args[0])
				return nil
			})
		},
	}

	c.Flags().BoolVar(&confirmed, "confirm", false, "confirm the slot was reviewed")
	return c
}
