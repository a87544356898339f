package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
)

func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset unit checkpoints",
	}
	cmd.AddCommand(newCheckpointShowCommand(rootOpts))
	cmd.AddCommand(newCheckpointResetCommand(rootOpts))
	return cmd
}

type checkpointOutput struct {
	EndpointID string `json:"endpointId"`
	UnitID     string `json:"unitId"`
	SinkID     string `json:"sinkId,omitempty"`
	Version    string `json:"version,omitempty"`
	Checkpoint any    `json:"checkpoint"`
}

func newCheckpointShowCommand(rootOpts *RootOptions) *cobra.Command {
	var sinkID string
	cmd := &cobra.Command{
		Use:           "show <endpoint-id> <unit-id>",
		Short:         "Print the stored checkpoint of a unit",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStartedApp(cmd.Context(), func(a *app.App) error {
				snap, err := a.Orchestrator.Checkpoint(cmd.Context(), args[0], args[1], sinkID)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
				}
				out := checkpointOutput{
					EndpointID: args[0],
					UnitID:     args[1],
					SinkID:     sinkID,
					Version:    string(snap.Version),
				}
				if snap.Checkpoint != nil {
					out.Checkpoint = snap.Checkpoint
				}
				return writeJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&sinkID, "sink", "", "sink id (defaults to the unit's sink)")
	return cmd
}

func newCheckpointResetCommand(rootOpts *RootOptions) *cobra.Command {
	var sinkID string
	cmd := &cobra.Command{
		Use:   "reset <endpoint-id> <unit-id>",
		Short: "Delete the checkpoint of a unit",
		Long: `Delete the checkpoint and transient state of a unit so its next
INCREMENTAL run starts from scratch. Refused while the unit is RUNNING.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStartedApp(cmd.Context(), func(a *app.App) error {
				if err := a.Orchestrator.ResetCheckpoint(cmd.Context(), args[0], args[1], sinkID); err != nil {
					return WrapExitError(ExitCommandError, "failed to reset checkpoint", err)
				}
				a.Logger.WithFields(map[string]any{
					"endpoint_id": args[0],
					"unit_id":     args[1],
					"sink_id":     sinkID,
				}).Info("checkpoint reset")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sinkID, "sink", "", "sink id (defaults to the unit's sink)")
	return cmd
}
