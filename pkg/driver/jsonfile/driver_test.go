package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/driver"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func setup(t *testing.T) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	unit := filepath.Join(dir, "issues")
	require.NoError(t, os.MkdirAll(unit, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "users"), 0o755))

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(unit, name), []byte(body), 0o600))
	}
	write("001.json", `{"records":[{"entityType":"work.item","logicalId":"PROJ-1","scope":{"orgId":"acme"},"payload":{"cdm_id":"PROJ-1"}}]}`)
	write("002.json", `[{"entityType":"work.item","logicalId":"PROJ-2","scope":{"orgId":"acme"},"provenance":{"sourceEventId":"evt-2"},"payload":{"cdm_id":"PROJ-2"}}]`)
	write("notes.txt", "ignored")

	lookup := func(endpointID string) (map[string]any, error) {
		if endpointID != "local" {
			return nil, fernerrors.NotFoundf("endpoint %q not found", endpointID)
		}
		return map[string]any{"root": dir}, nil
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return New(lookup, logger), dir
}

func TestListUnits(t *testing.T) {
	d, _ := setup(t)
	units, err := d.ListUnits(context.Background(), "local")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "issues", units[0].UnitID)
	assert.True(t, units[0].Supports(models.RunModeIncremental))

	_, err = d.ListUnits(context.Background(), "other")
	assert.ErrorIs(t, err, fernerrors.ErrNotFound)
}

func TestSyncUnit_FirstRunReadsEverything(t *testing.T) {
	d, _ := setup(t)
	res, err := d.SyncUnit(context.Background(), driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeIncremental,
	})
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.Equal(t, "002.json", res.NewCheckpoint.Cursor)
	assert.Equal(t, []string{"001.json#0", "evt-2"}, res.SourceEventIDs)
	assert.Equal(t, "local", res.Batches[0].Records[0].Provenance.EndpointID)
	assert.Equal(t, 2, res.Stats["records"])

	payload, ok := res.Batches[1].Records[0].PayloadMap()
	require.True(t, ok)
	assert.Equal(t, "PROJ-2", payload["cdm_id"])
}

func TestSyncUnit_IncrementalResumesAfterCursor(t *testing.T) {
	d, _ := setup(t)
	res, err := d.SyncUnit(context.Background(), driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeIncremental,
		Checkpoint: &models.Checkpoint{Cursor: "001.json"},
	})
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, "PROJ-2", res.Batches[0].Records[0].LogicalID)

	res, err = d.SyncUnit(context.Background(), driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeIncremental,
		Checkpoint: &models.Checkpoint{Cursor: "002.json"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
	assert.Equal(t, "002.json", res.NewCheckpoint.Cursor)
}

func TestSyncUnit_FullIgnoresCursor(t *testing.T) {
	d, _ := setup(t)
	res, err := d.SyncUnit(context.Background(), driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeFull,
		Checkpoint: &models.Checkpoint{Cursor: "002.json"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Batches, 2)
}

func TestSyncUnit_BadFileIsReportedNotFatal(t *testing.T) {
	d, dir := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "issues", "003.json"), []byte("{broken"), 0o600))

	res, err := d.SyncUnit(context.Background(), driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeFull,
	})
	require.NoError(t, err)
	assert.Len(t, res.Batches, 2)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, "002.json", res.NewCheckpoint.Cursor)
}

func TestSyncUnit_CursorStopsBeforeBadFile(t *testing.T) {
	d, dir := setup(t)
	bad := filepath.Join(dir, "issues", "001_5.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"records":[`), 0o600))

	req := driver.SyncRequest{
		EndpointID: "local",
		Unit:       models.UnitDescriptor{UnitID: "issues"},
		Mode:       models.RunModeIncremental,
	}
	res, err := d.SyncUnit(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, "001.json", res.NewCheckpoint.Cursor)

	require.NoError(t, os.WriteFile(bad, []byte(`{"records":[{"entityType":"work.item","logicalId":"PROJ-15","scope":{"orgId":"acme"},"payload":{"cdm_id":"PROJ-15"}}]}`), 0o600))
	req.Checkpoint = &res.NewCheckpoint
	res, err = d.SyncUnit(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "PROJ-15", res.Batches[0].Records[0].LogicalID)
	assert.Equal(t, "002.json", res.NewCheckpoint.Cursor)
}

func TestSyncUnit_MissingRoot(t *testing.T) {
	d := New(func(string) (map[string]any, error) { return map[string]any{}, nil },
		ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	_, err := d.SyncUnit(context.Background(), driver.SyncRequest{EndpointID: "x", Unit: models.UnitDescriptor{UnitID: "u"}})
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)
}
