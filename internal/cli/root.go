package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the command ran but the unit run failed
	ExitCommandError = 2 // bad flags, config or infrastructure
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EndpointsFile string
	Backend       string
	LogLevel      string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fern",
		Short: "fern - unit sync orchestrator",
		Long: `fern runs driver units against sinks, tracking per-unit checkpoints and
lifecycle state so incremental syncs resume where the last one stopped.

Configuration is read from the environment and an optional .env file; the
global flags override the matching variables.`,
	}

	cmd.PersistentFlags().StringVar(&opts.EndpointsFile, "endpoints", "", "endpoint catalog file (overrides ENDPOINTS_FILE)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "checkpoint backend: postgres, redis or memory (overrides CHECKPOINT_BACKEND)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))

	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *RootOptions) apply(cfg *config.Config) {
	if o.EndpointsFile != "" {
		cfg.EndpointsFile = o.EndpointsFile
	}
	if o.Backend != "" {
		cfg.CheckpointBackend = o.Backend
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// newApp builds the application without starting it.
func (o *RootOptions) newApp() (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	return a, nil
}

// withStartedApp starts the application, runs fn and stops it again.
func (o *RootOptions) withStartedApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := o.newApp()
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ShutdownTimeout)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			a.Logger.WithError(err).Warn("shutdown failed")
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
