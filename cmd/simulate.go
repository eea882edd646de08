package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/migration-progress/internal/server"
)

// newSimulateCmd creates the 'simulate' subcommand, which pushes the mock
// migration workload through the progress pipeline.
func newSimulateCmd() *cobra.Command {
	var serve bool

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the mock migration workload",
		Long: `Runs every migration of the built-in catalogue with a random number of
records each, reporting progress to all configured observers. With --serve the
HTTP API stays up after the run until the process is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, func(ctx context.Context, appInstance *server.App) error {
				if !serve {
					return appInstance.Simulate(ctx)
				}
				return simulateAndServe(ctx, appInstance)
			})
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "keep the HTTP API running after the simulation")
	return cmd
}

// simulateAndServe runs the workload with the HTTP API up and keeps serving
// until ctx is cancelled.
func simulateAndServe(ctx context.Context, appInstance *server.App) error {
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serveErr := make(chan error, 1)
	go func() { serveErr <- appInstance.Serve(serveCtx) }()

	if err := appInstance.Simulate(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stopServe()
		<-serveErr
		return err
	}
	appInstance.Logger().Info("simulation finished; serving until interrupted")

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	stopServe()
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
