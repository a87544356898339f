package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		Long: `Start the infrastructure, then serve the operator API, health checks and
metrics until SIGINT or SIGTERM. Background unit runs are given the shutdown
timeout to finish.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rootOpts.newApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to start", err)
			}
			if err := a.Serve(ctx); err != nil {
				return WrapExitError(ExitFailure, "server stopped", err)
			}
			return nil
		},
	}
}
