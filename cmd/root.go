// Package cmd defines and implements the CLI commands for the migration-progress executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/migration-progress/internal/config"
	"github.com/JakeFAU/migration-progress/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap in
// options such as a no-op logger.
var newApp = func(ctx context.Context, cfg *config.Config, out io.Writer) (*server.App, error) {
	return server.Build(ctx, cfg, server.Options{DisplayOut: out})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "migration-progress",
		Short: "Track and report the progress of data migration runs.",
		Long: `migration-progress applies migration lifecycle events to a progress
snapshot in order and fans each update out to the terminal display,
Prometheus metrics, run history, and the analytics collector.`,
		SilenceUsage: true,

		// Build the application once config is known, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newSimulateCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*server.App, error) {
	appInstance, ok := ctx.Value(appKey).(*server.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// runWithApp hands the initialized App to fn and always closes it afterwards,
// including when fn fails or the command context was cancelled, so queued
// events are drained and publishers flushed.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App) error) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		closeErr := appInstance.Close(context.WithoutCancel(cmd.Context()))
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
		}
	}()
	return fn(cmd.Context(), appInstance)
}

// Execute is the main entry point.
func Execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
