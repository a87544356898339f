package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Mode           string
	SinkID         string
	SinkEndpointID string
	Reset          bool
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <endpoint-id> <unit-id>",
		Short: "Run one unit to completion",
		Long: `Run a single unit in the foreground and print the run result as JSON.

The exit code is 1 when the run finished FAILED and 2 when it could not be
started at all.

Example:
  fern sync jira issues --mode incremental
  fern sync files orders --sink-endpoint warehouse --mode full --reset`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid flags", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withStartedApp(ctx, func(a *app.App) error {
				result, err := a.Orchestrator.RunUnit(ctx, req)
				if err != nil {
					return WrapExitError(ExitCommandError, "sync rejected", err)
				}
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result.State == models.UnitStateFailed {
					return WrapExitError(ExitFailure, "sync failed", fmt.Errorf("%s", result.Error))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "run mode: full or incremental (defaults to the unit's mode)")
	cmd.Flags().StringVar(&opts.SinkID, "sink", "", "sink id (defaults to the unit's sink)")
	cmd.Flags().StringVar(&opts.SinkEndpointID, "sink-endpoint", "", "configured sink endpoint id")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "ignore the stored checkpoint for this run")

	return cmd
}

func (o *SyncOptions) request(endpointID, unitID string) (orchestrator.RunRequest, error) {
	mode, err := models.ParseRunMode(o.Mode)
	if err != nil {
		return orchestrator.RunRequest{}, err
	}
	req := orchestrator.RunRequest{
		EndpointID:     endpointID,
		UnitID:         unitID,
		SinkID:         o.SinkID,
		SinkEndpointID: o.SinkEndpointID,
		Mode:           mode,
	}
	if o.Reset {
		req.DataMode = orchestrator.DataModeReset
	}
	return req, nil
}
