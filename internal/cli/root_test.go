package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{{"serve"}, {"sync"}, {"migrate"}, {"checkpoint", "show"}, {"checkpoint", "reset"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	for _, name := range []string{"mode", "sink", "sink-endpoint", "reset"} {
		assert.NotNil(t, syncCmd.Flags().Lookup(name), name)
	}
	assert.Error(t, syncCmd.Args(syncCmd, []string{"only-endpoint"}))
}

func TestSyncOptions_Request(t *testing.T) {
	opts := &SyncOptions{RootOptions: &RootOptions{}, Mode: "incremental", SinkEndpointID: "warehouse", Reset: true}
	req, err := opts.request("jira", "issues")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.RunRequest{
		EndpointID:     "jira",
		UnitID:         "issues",
		SinkEndpointID: "warehouse",
		Mode:           models.RunModeIncremental,
		DataMode:       orchestrator.DataModeReset,
	}, req)

	opts.Mode = "weekly"
	_, err = opts.request("jira", "issues")
	assert.Error(t, err)
}

func TestRootOptions_Apply(t *testing.T) {
	cfg := &config.Config{EndpointsFile: "endpoints.yaml", CheckpointBackend: config.BackendPostgres, LogLevel: "info"}
	(&RootOptions{Backend: config.BackendMemory, EndpointsFile: "other.yaml"}).apply(cfg)

	assert.Equal(t, config.BackendMemory, cfg.CheckpointBackend)
	assert.Equal(t, "other.yaml", cfg.EndpointsFile)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", errors.New("x"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, "bad: x", WrapExitError(ExitCommandError, "bad", errors.New("x")).Error())
}
