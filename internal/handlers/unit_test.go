package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/checkpoint"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
)

type fakeUnits struct {
	lastRun   orchestrator.RunRequest
	resetSink string
	pauseErr  error
}

func (f *fakeUnits) ListUnits(_ context.Context, endpointID string) ([]models.UnitDescriptor, error) {
	if endpointID != "jira" {
		return nil, fernerrors.NotFoundf("endpoint %q not found", endpointID)
	}
	return []models.UnitDescriptor{{UnitID: "issues"}}, nil
}

func (f *fakeUnits) Status(context.Context, string, string) (models.UnitStatus, error) {
	return models.UnitStatus{State: models.UnitStateSucceeded, LastRunID: "run-0"}, nil
}

func (f *fakeUnits) RunUnit(_ context.Context, req orchestrator.RunRequest) (orchestrator.RunResult, error) {
	f.lastRun = req
	return orchestrator.RunResult{RunID: "run-1", State: models.UnitStateSucceeded, Mode: models.RunModeFull}, nil
}

func (f *fakeUnits) StartUnit(_ context.Context, req orchestrator.RunRequest) (string, error) {
	f.lastRun = req
	if req.Mode == models.RunModeIncremental {
		return "", fernerrors.NewConfigurationError("units", "unit %q does not support INCREMENTAL runs", req.UnitID)
	}
	return "run-2", nil
}

func (f *fakeUnits) Pause(_ context.Context, _, unitID string) (models.UnitStatus, error) {
	if f.pauseErr != nil {
		return models.UnitStatus{}, f.pauseErr
	}
	return models.UnitStatus{State: models.UnitStatePaused}, nil
}

func (f *fakeUnits) Resume(context.Context, string, string) (models.UnitStatus, error) {
	return models.UnitStatus{State: models.UnitStateIdle}, nil
}

func (f *fakeUnits) Checkpoint(context.Context, string, string, string) (checkpoint.Snapshot, error) {
	return checkpoint.Snapshot{Checkpoint: &models.Checkpoint{Cursor: "c-9"}, Version: "4"}, nil
}

func (f *fakeUnits) ResetCheckpoint(_ context.Context, _, _, sinkID string) error {
	f.resetSink = sinkID
	return nil
}

func setup(units *fakeUnits) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewUnitHandler(units, nil, logger).Register(e.Group("/api/v1/endpoints"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestUnitHandler_List(t *testing.T) {
	e := setup(&fakeUnits{})

	rec := do(e, http.MethodGet, "/api/v1/endpoints/jira/units", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var units []models.UnitDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	require.Len(t, units, 1)
	assert.Equal(t, "issues", units[0].UnitID)

	rec = do(e, http.MethodGet, "/api/v1/endpoints/other/units", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnitHandler_SyncWait(t *testing.T) {
	units := &fakeUnits{}
	e := setup(units)

	rec := do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/sync",
		`{"mode":"full","dataMode":"reset","sinkEndpointId":"warehouse","wait":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RunModeFull, units.lastRun.Mode)
	assert.Equal(t, "reset", units.lastRun.DataMode)
	assert.Equal(t, "warehouse", units.lastRun.SinkEndpointID)

	var result orchestrator.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
}

func TestUnitHandler_SyncAsync(t *testing.T) {
	units := &fakeUnits{}
	e := setup(units)

	rec := do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted SyncAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "run-2", accepted.RunID)
	assert.Equal(t, models.RunMode(""), units.lastRun.Mode)

	rec = do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/sync", `{"mode":"INCREMENTAL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/sync", `{"mode":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnitHandler_PauseConflict(t *testing.T) {
	e := setup(&fakeUnits{pauseErr: fernerrors.NewTransitionError("issues", "IDLE", "PAUSED")})
	rec := do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	e = setup(&fakeUnits{})
	rec = do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodPost, "/api/v1/endpoints/jira/units/issues/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnitHandler_Checkpoint(t *testing.T) {
	units := &fakeUnits{}
	e := setup(units)

	rec := do(e, http.MethodGet, "/api/v1/endpoints/jira/units/issues/checkpoint?sink=cdm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckpointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-9", resp.Checkpoint.Cursor)
	assert.Equal(t, "4", resp.Version)

	rec = do(e, http.MethodDelete, "/api/v1/endpoints/jira/units/issues/checkpoint?sink=cdm", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cdm", units.resetSink)
}

func TestUnitHandler_RunsWithoutHistory(t *testing.T) {
	e := setup(&fakeUnits{})
	rec := do(e, http.MethodGet, "/api/v1/endpoints/jira/units/issues/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
