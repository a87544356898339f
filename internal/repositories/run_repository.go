package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	runsTable       = "ingestion_runs"
	DefaultRunLimit = 50
	MaxRunLimit     = 500
)

type runRow struct {
	RunID          string                         `db:"run_id"`
	TenantID       string                         `db:"tenant_id"`
	EndpointID     string                         `db:"endpoint_id"`
	UnitID         string                         `db:"unit_id"`
	SinkID         string                         `db:"sink_id"`
	SinkEndpointID string                         `db:"sink_endpoint_id"`
	Mode           string                         `db:"mode"`
	State          string                         `db:"state"`
	Stats          database.JSONB[map[string]any] `db:"stats"`
	Error          string                         `db:"error"`
	StartedAt      time.Time                      `db:"started_at"`
	FinishedAt     *time.Time                     `db:"finished_at"`
}

var runStruct = database.NewStruct(new(runRow))

func (r runRow) toRun() orchestrator.Run {
	return orchestrator.Run{
		RunID:          r.RunID,
		TenantID:       r.TenantID,
		EndpointID:     r.EndpointID,
		UnitID:         r.UnitID,
		SinkID:         r.SinkID,
		SinkEndpointID: r.SinkEndpointID,
		Mode:           models.RunMode(r.Mode),
		State:          models.UnitState(r.State),
		Stats:          r.Stats.Data,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// RunRepository stores run history in ingestion_runs.
type RunRepository struct {
	*Repository
}

func NewRunRepository(db database.DB, logger ectologger.Logger) *RunRepository {
	return &RunRepository{Repository: NewRepository(db, logger)}
}

func (r *RunRepository) RunStarted(ctx context.Context, run orchestrator.Run) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.RunStarted", attribute.String("run_id", run.RunID))
	defer span.End()

	stats := run.Stats
	if stats == nil {
		stats = map[string]any{}
	}
	ib := database.NewInsertBuilder()
	ib.InsertInto(runsTable).
		Cols("run_id", "tenant_id", "endpoint_id", "unit_id", "sink_id", "sink_endpoint_id",
			"mode", "state", "stats", "error", "started_at").
		Values(run.RunID, run.TenantID, run.EndpointID, run.UnitID, run.SinkID, run.SinkEndpointID,
			string(run.Mode), string(run.State), database.NewJSONB(stats), run.Error, run.StartedAt)
	ib.OnConflictDoNothing("run_id")

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err, "failed to insert run")
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.RunID).Error("failed to record run start")
		return fernerrors.NewStorageError("postgres", "insert run", err)
	}

	r.logger.WithContext(ctx).WithField("run_id", run.RunID).Debugf("Created %s", runsTable)
	return nil
}

func (r *RunRepository) RunFinished(ctx context.Context, run orchestrator.Run) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.RunFinished", attribute.String("run_id", run.RunID))
	defer span.End()

	stats := run.Stats
	if stats == nil {
		stats = map[string]any{}
	}
	ub := database.NewUpdateBuilder()
	ub.Update(runsTable).
		Set(
			ub.Assign("state", string(run.State)),
			ub.Assign("stats", database.NewJSONB(stats)),
			ub.Assign("error", run.Error),
			ub.Assign("finished_at", run.FinishedAt),
		).
		Where(ub.Equal("run_id", run.RunID))

	query, args := ub.Build()
	res, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err, "failed to update run")
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.RunID).Error("failed to record run outcome")
		return fernerrors.NewStorageError("postgres", "update run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fernerrors.NotFoundf("run %s does not exist", run.RunID)
	}

	r.logger.WithContext(ctx).WithField("run_id", run.RunID).Debugf("Updated %s", runsTable)
	return nil
}

// ListRuns returns the most recent runs of a unit, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, endpointID, unitID string, limit int) ([]orchestrator.Run, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.ListRuns",
		attribute.String("endpoint_id", endpointID),
		attribute.String("unit_id", unitID))
	defer span.End()

	sb := runStruct.SelectFrom(runsTable)
	sb.Where(sb.Equal("endpoint_id", endpointID), sb.Equal("unit_id", unitID))
	sb.OrderBy("started_at").Desc()
	sb.Limit(ClampLimit(limit))

	query, args := sb.Build()
	var rows []runRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		tracing.RecordError(span, err, "failed to list runs")
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"endpoint_id": endpointID,
			"unit_id":     unitID,
		}).Error("failed to list runs")
		return nil, fernerrors.NewStorageError("postgres", "list runs", err)
	}

	runs := make([]orchestrator.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRunLimit
	}
	if limit > MaxRunLimit {
		return MaxRunLimit
	}
	return limit
}
