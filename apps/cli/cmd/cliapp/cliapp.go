// Package cliapp holds what every poolctl command shares: global flags, service wiring
// and output helpers.
package cliapp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/requesttrace"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

const component = "poolctl"

type globalFlags struct {
	databaseURL string
	schema      string
	logLevel    string
}

var global globalFlags

// BindFlags registers the persistent flags on the root command.
func BindFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVar(&global.databaseURL, "database-url", "", "Postgres connection string (overrides DATABASE_URL)")
	pf.StringVar(&global.schema, "schema", "", "schema holding the pool tables (overrides DB_SCHEMA)")
	pf.StringVar(&global.logLevel, "log-level", "", "log level written to stderr (overrides LOG_LEVEL)")
}

func overrides() map[string]string {
	out := map[string]string{}
	if global.databaseURL != "" {
		out["DATABASE_URL"] = global.databaseURL
	}
	if global.schema != "" {
		out["DB_SCHEMA"] = global.schema
	}
	if global.logLevel != "" {
		out["LOG_LEVEL"] = global.logLevel
	}
	return out
}

// Run loads the configuration, wires the services and calls fn. Writes made by fn are
// attributed to poolctl.
func Run(cmd *cobra.Command, fn func(ctx context.Context, app *setups.App) error) error {
	cfg, err := setups.LoadConfigWith(overrides())
	if err != nil {
		return err
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: component,
		Level:     cfg.LogLevel,
		EnvKey:    cfg.EnvKey,
		Output:    os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := setups.Build(ctx, component, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn("close services", zap.Error(err))
		}
	}()

	ctx = requesttrace.IntoContext(ctx, requesttrace.System(component, ""))
	ctx = platformlogging.WithLogger(ctx, logger)
	return fn(ctx, app)
}

// PrintJSON writes v as indented JSON to the command's stdout.
func PrintJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
