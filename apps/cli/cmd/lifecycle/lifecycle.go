// Package lifecycle holds the poolctl commands that walk a tenant through the pool:
// allocate, deploy, teardown and reconcile.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/cliapp"
	deployments "github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	teardown "github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

func AllocateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "allocate <chatbotId>",
		Short: "Reserve a pool slot for a chatbot and print its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				alloc, err := app.Lifecycle.Allocate(ctx, args[0])
				if err != nil {
					return err
				}
				return cliapp.PrintJSON(cmd, alloc)
			})
		},
	}
}

func DeployCommand() *cobra.Command {
	var (
		configPath  string
		displayName string
	)

	c := &cobra.Command{
		Use:   "deploy <slotId>",
		Short: "Deploy a tenant frontend into a slot and wait for it",
		Long: "Deploys synchronously: the command returns once the deployment is promoted or failed. " +
			"The tenant config is read from --config (JSON); --display-name builds a minimal one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				slot, err := app.Lifecycle.GetSlot(ctx, args[0])
				if err != nil {
					return err
				}
				tenantCfg, err := loadTenantConfig(configPath, displayName, slot.ChatbotID)
				if err != nil {
					return err
				}

				result, err := app.Lifecycle.Deploy(ctx, slot.SlotID, tenantCfg)
				if err != nil {
					var derr *deployments.DeploymentError
					if errors.As(err, &derr) {
						fmt.Fprintf(cmd.ErrOrStderr(), "diagnostic: %s: %s\n", derr.Reason, derr.ProviderMessage)
					}
					return err
				}
				return cliapp.PrintJSON(cmd, result)
			})
		},
	}

	c.Flags().StringVar(&configPath, "config", "", "tenant config JSON file")
	c.Flags().StringVar(&displayName, "display-name", "", "display name when no --config is given")
	c.MarkFlagsOneRequired("config", "display-name")
	c.MarkFlagsMutuallyExclusive("config", "display-name")
	return c
}

func loadTenantConfig(path, displayName, chatbotID string) (deployments.TenantConfig, error) {
	if path == "" {
		return deployments.TenantConfig{ChatbotID: chatbotID, DisplayName: displayName}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return deployments.TenantConfig{}, fmt.Errorf("read tenant config: %w", err)
	}
	var cfg deployments.TenantConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return deployments.TenantConfig{}, fmt.Errorf("parse tenant config: %w", err)
	}
	if cfg.ChatbotID == "" {
		cfg.ChatbotID = chatbotID
	}
	return cfg, nil
}

func TeardownCommand() *cobra.Command {
	var (
		keepVectors bool
		keepGraph   bool
	)

	c := &cobra.Command{
		Use:   "teardown <chatbotId>",
		Short: "Delete a chatbot's data everywhere and release its slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				report, err := app.Lifecycle.Teardown(ctx, args[0], teardown.Options{
					DeleteVectors: !keepVectors,
					DeleteGraph:   !keepGraph,
				})
				if err != nil {
					return err
				}
				if err := cliapp.PrintJSON(cmd, report); err != nil {
					return err
				}
				return report.Err()
			})
		},
	}

	c.Flags().BoolVar(&keepVectors, "keep-vectors", false, "skip vector and object deletion")
	c.Flags().BoolVar(&keepGraph, "keep-graph", false, "skip graph instance deletion")
	return c
}

func ReconcileCommand() *cobra.Command {
	var quarantine bool

	c := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare central slot records with slot flags",
		Long: "Reports every slot whose central record and flag disagree. Nothing is ever moved back " +
			"to available; with --quarantine mismatched slots are moved to maintenance.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				report, err := app.Lifecycle.Reconcile(ctx, quarantine)
				if err != nil {
					return err
				}
				if err := cliapp.PrintJSON(cmd, report); err != nil {
					return err
				}
				if len(report.Mismatches) > 0 {
					return fmt.Errorf("%w: %d slot(s) need review", pool.ErrReconciliationMismatch, len(report.Mismatches))
				}
				return nil
			})
		},
	}

	c.Flags().BoolVar(&quarantine, "quarantine", false, "move mismatched slots to maintenance")
	return c
}
