package cli

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the migrations in DB_MIGRATION_FOLDER_PATH to the database named by the
DB_* variables, honouring DB_MIGRATION_VERSION and DB_MIGRATION_FORCE.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			logger, err := app.NewLogger(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if err := app.Migrate(cmd.Context(), cfg, logger); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
