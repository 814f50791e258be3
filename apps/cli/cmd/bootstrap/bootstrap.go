package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenant-pool/apps/cli/cmd/cliapp"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/persistence"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

// Notes:
// - The DDL is idempotent; rerunning bootstrap against a live pool is safe.
// - Registering writes the slot flag first, so the slot service account must already be in
//   POOL_CREDENTIALS_DIR.
// - Slots that are already registered are skipped, never reset.

// SlotSpec pairs a slot id with its pool project.
type SlotSpec struct {
	SlotID    string `json:"slotId"`
	ProjectID string `json:"projectId"`
}

// Command creates the pool schema and registers pool projects.
func Command() *cobra.Command {
	var (
		slotArgs  []string
		slotsFile string
		skipDDL   bool
	)

	c := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the pool tables and register pool projects",
		Long: "Applies the pool DDL in the configured schema, then registers every slot passed with " +
			"--slot slotId=projectId or listed in --slots-file (a JSON array of {slotId, projectId}).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := collectSlots(slotArgs, slotsFile)
			if err != nil {
				return err
			}

			return cliapp.Run(cmd, func(ctx context.Context, app *setups.App) error {
				if !skipDDL {
					if err := persistence.BootstrapPoolSchema(ctx, app.DB, app.Config.DBSchema); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema %s ready\n", app.Config.DBSchema)
				}
				return registerSlots(ctx, cmd, app, specs)
			})
		},
	}

	c.Flags().StringArrayVar(&slotArgs, "slot", nil, "slot to register as slotId=projectId (repeatable)")
	c.Flags().StringVar(&slotsFile, "slots-file", "", "JSON file listing slots to register")
	c.Flags().BoolVar(&skipDDL, "skip-ddl", false, "only register slots")
	return c
}

func registerSlots(ctx context.Context, cmd *cobra.Command, app *setups.App, specs []SlotSpec) error {
	registered, skipped := 0, 0
	for _, spec := range specs {
		_, err := app.Registry.Register(ctx, spec.SlotID, spec.ProjectID)
		switch {
		case err == nil:
			registered++
		case errors.Is(err, pool.ErrDuplicate):
			skipped++
			app.Logger.Info("slot already registered", zap.String("slotId", spec.SlotID))
		default:
			return fmt.Errorf("register slot %s: %w", spec.SlotID, err)
		}
	}
	if len(specs) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "slots registered: %d, already present: %d\n", registered, skipped)
	}
	return nil
}

func collectSlots(slotArgs []string, slotsFile string) ([]SlotSpec, error) {
	var specs []SlotSpec
	for _, arg := range slotArgs {
		spec, err := parseSlotArg(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if slotsFile != "" {
		raw, err := os.ReadFile(slotsFile)
		if err != nil {
			return nil, fmt.Errorf("read slots file: %w", err)
		}
		var fromFile []SlotSpec
		if err := json.Unmarshal(raw, &fromFile); err != nil {
			return nil, fmt.Errorf("parse slots file: %w", err)
		}
		for i, spec := range fromFile {
			if strings.TrimSpace(spec.SlotID) == "" || strings.TrimSpace(spec.ProjectID) == "" {
				return nil, fmt.Errorf("slots file entry %d: slotId and projectId are required", i)
			}
		}
		specs = append(specs, fromFile...)
	}

	seen := map[string]bool{}
	for _, spec := range specs {
		if seen[spec.SlotID] {
			return nil, fmt.Errorf("slot %s listed twice", spec.SlotID)
		}
		seen[spec.SlotID] = true
	}
	return specs, nil
}

func parseSlotArg(arg string) (SlotSpec, error) {
	slotID, projectID, ok := strings.Cut(arg, "=")
	slotID = strings.TrimSpace(slotID)
	projectID = strings.TrimSpace(projectID)
	if !ok || slotID == "" || projectID == "" {
		return SlotSpec{}, fmt.Errorf("invalid --slot %q: want slotId=projectId", arg)
	}
	return SlotSpec{SlotID: slotID, ProjectID: projectID}, nil
}
