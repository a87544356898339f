package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/checkpoint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// UnitService is the orchestrator surface the operator API uses.
type UnitService interface {
	ListUnits(ctx context.Context, endpointID string) ([]models.UnitDescriptor, error)
	Status(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error)
	RunUnit(ctx context.Context, req orchestrator.RunRequest) (orchestrator.RunResult, error)
	StartUnit(ctx context.Context, req orchestrator.RunRequest) (string, error)
	Pause(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error)
	Resume(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error)
	Checkpoint(ctx context.Context, endpointID, unitID, sinkID string) (checkpoint.Snapshot, error)
	ResetCheckpoint(ctx context.Context, endpointID, unitID, sinkID string) error
}

// RunHistory lists past runs of a unit. It is optional.
type RunHistory interface {
	ListRuns(ctx context.Context, endpointID, unitID string, limit int) ([]orchestrator.Run, error)
}

type UnitHandler struct {
	units   UnitService
	history RunHistory
	logger  ectologger.Logger
}

// NewUnitHandler builds the handler. history may be nil when run history is
// not persisted.
func NewUnitHandler(units UnitService, history RunHistory, logger ectologger.Logger) *UnitHandler {
	return &UnitHandler{units: units, history: history, logger: logger}
}

type SyncRequest struct {
	Mode           string `json:"mode"`
	DataMode       string `json:"dataMode"`
	SinkID         string `json:"sinkId"`
	SinkEndpointID string `json:"sinkEndpointId"`
	// Wait runs the unit inside the request instead of in the background.
	Wait bool `json:"wait"`
}

type SyncAccepted struct {
	RunID string `json:"runId"`
}

type CheckpointResponse struct {
	Checkpoint *models.Checkpoint `json:"checkpoint"`
	Version    string             `json:"version,omitempty"`
}

// Register mounts the unit routes on a group rooted at /endpoints.
func (h *UnitHandler) Register(g *echo.Group) {
	g.GET("/:endpointId/units", h.List)
	g.GET("/:endpointId/units/:unitId/status", h.Status)
	g.POST("/:endpointId/units/:unitId/sync", h.Sync)
	g.POST("/:endpointId/units/:unitId/pause", h.Pause)
	g.POST("/:endpointId/units/:unitId/resume", h.Resume)
	g.GET("/:endpointId/units/:unitId/checkpoint", h.GetCheckpoint)
	g.DELETE("/:endpointId/units/:unitId/checkpoint", h.ResetCheckpoint)
	g.GET("/:endpointId/units/:unitId/runs", h.Runs)
}

func unitParams(c echo.Context) (string, string, error) {
	endpointID, err := RequiredParam(c, "endpointId")
	if err != nil {
		return "", "", err
	}
	unitID, err := RequiredParam(c, "unitId")
	if err != nil {
		return "", "", err
	}
	return endpointID, unitID, nil
}

// List handles GET /endpoints/:endpointId/units
func (h *UnitHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.List")
	defer span.End()

	endpointID, err := RequiredParam(c, "endpointId")
	if err != nil {
		return err
	}
	units, err := h.units.ListUnits(ctx, endpointID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, units)
}

// Status handles GET /endpoints/:endpointId/units/:unitId/status
func (h *UnitHandler) Status(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.Status")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	status, err := h.units.Status(ctx, endpointID, unitID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, status)
}

// Sync handles POST /endpoints/:endpointId/units/:unitId/sync
func (h *UnitHandler) Sync(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.Sync")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}

	var body SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return BadRequest("invalid request body")
		}
	}
	mode, err := models.ParseRunMode(body.Mode)
	if err != nil {
		return BadRequest(err.Error())
	}

	req := orchestrator.RunRequest{
		EndpointID:     endpointID,
		UnitID:         unitID,
		SinkID:         body.SinkID,
		SinkEndpointID: body.SinkEndpointID,
		Mode:           mode,
		DataMode:       body.DataMode,
	}

	if body.Wait {
		result, err := h.units.RunUnit(ctx, req)
		if err != nil {
			return err
		}
		return SuccessResponse(c, result)
	}

	runID, err := h.units.StartUnit(ctx, req)
	if err != nil {
		return err
	}
	h.logger.WithContext(ctx).WithFields(map[string]any{
		"endpoint_id": endpointID,
		"unit_id":     unitID,
		"run_id":      runID,
	}).Info("unit sync started")
	return AcceptedResponse(c, SyncAccepted{RunID: runID})
}

// Pause handles POST /endpoints/:endpointId/units/:unitId/pause
func (h *UnitHandler) Pause(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.Pause")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	status, err := h.units.Pause(ctx, endpointID, unitID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, status)
}

// Resume handles POST /endpoints/:endpointId/units/:unitId/resume
func (h *UnitHandler) Resume(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.Resume")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	status, err := h.units.Resume(ctx, endpointID, unitID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, status)
}

// GetCheckpoint handles GET /endpoints/:endpointId/units/:unitId/checkpoint?sink=
func (h *UnitHandler) GetCheckpoint(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.GetCheckpoint")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	snap, err := h.units.Checkpoint(ctx, endpointID, unitID, c.QueryParam("sink"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, CheckpointResponse{Checkpoint: snap.Checkpoint, Version: string(snap.Version)})
}

// ResetCheckpoint handles DELETE /endpoints/:endpointId/units/:unitId/checkpoint?sink=
func (h *UnitHandler) ResetCheckpoint(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.ResetCheckpoint")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	if err := h.units.ResetCheckpoint(ctx, endpointID, unitID, c.QueryParam("sink")); err != nil {
		return err
	}
	return NoContentResponse(c)
}

// Runs handles GET /endpoints/:endpointId/units/:unitId/runs?limit=
func (h *UnitHandler) Runs(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "UnitHandler.Runs")
	defer span.End()

	endpointID, unitID, err := unitParams(c)
	if err != nil {
		return err
	}
	if h.history == nil {
		return SuccessResponse(c, []orchestrator.Run{})
	}
	limit, err := IntQuery(c, "limit", 0)
	if err != nil {
		return err
	}
	runs, err := h.history.ListRuns(ctx, endpointID, unitID, limit)
	if err != nil {
		return err
	}
	return SuccessResponse(c, runs)
}
