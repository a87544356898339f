// Package orchestrator drives one unit run end to end: lifecycle status,
// checkpoint read, driver sync, sink writes, commit and checkpoint write.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/checkpoint"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/driver"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/sink"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/units"
)

// DataModeReset runs the unit as if no checkpoint had been stored.
const DataModeReset = "reset"

type RunRequest struct {
	EndpointID string
	UnitID     string
	// SinkID selects the sink implementation. When empty it comes from the
	// sink endpoint, then from the unit default.
	SinkID         string
	SinkEndpointID string
	Mode           models.RunMode
	DataMode       string
	// RunID is generated when empty.
	RunID string
}

type RunResult struct {
	RunID      string             `json:"runId"`
	State      models.UnitState   `json:"state"`
	Mode       models.RunMode     `json:"mode"`
	Stats      models.SinkStats   `json:"stats"`
	Batches    int                `json:"batches"`
	Checkpoint *models.Checkpoint `json:"checkpoint,omitempty"`
	Error      string             `json:"error,omitempty"`

	SourceEventIDs []string `json:"sourceEventIds,omitempty"`
}

type Option func(*Orchestrator)

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.runs = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type Orchestrator struct {
	registry    *registry.Registry
	resolver    *units.Resolver
	checkpoints *checkpoint.Service
	publisher   events.Publisher
	runs        RunRecorder
	logger      ectologger.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

func New(
	reg *registry.Registry,
	resolver *units.Resolver,
	checkpoints *checkpoint.Service,
	logger ectologger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		resolver:    resolver,
		checkpoints: checkpoints,
		publisher:   events.Noop{},
		runs:        noopRecorder{},
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// plan is a validated run request.
type plan struct {
	runID      string
	endpoint   units.Endpoint
	unit       models.UnitDescriptor
	mode       models.RunMode
	reset      bool
	sinkID     string
	sinkEPID   string
	sinkConfig map[string]any
	key        checkpoint.Key
}

// run is a unit run that has been moved to RUNNING.
type run struct {
	ctx           context.Context
	plan          plan
	startedAt     time.Time
	statusVersion checkpoint.Version
	status        models.UnitStatus
}

// RunUnit executes one unit run and waits for it to finish. Validation and
// lifecycle errors are returned as errors; a run that started and failed is
// reported through the result with state FAILED.
func (o *Orchestrator) RunUnit(ctx context.Context, req RunRequest) (RunResult, error) {
	r, err := o.start(ctx, req)
	if err != nil {
		return RunResult{}, err
	}
	return o.complete(r), nil
}

// StartUnit moves the unit to RUNNING and finishes the run in the background.
// It returns the run id once the unit is RUNNING.
func (o *Orchestrator) StartUnit(ctx context.Context, req RunRequest) (string, error) {
	r, err := o.start(context.WithoutCancel(ctx), req)
	if err != nil {
		return "", err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.complete(r)
	}()
	return r.plan.runID, nil
}

// Wait blocks until every run started with StartUnit has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) start(ctx context.Context, req RunRequest) (*run, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = fernctx.SetRunID(ctx, p.runID)
	ctx = fernctx.SetUnit(ctx, p.endpoint.ID, p.unit.UnitID, p.sinkID)
	if p.endpoint.TenantID != "" {
		ctx = fernctx.SetTenantID(ctx, p.endpoint.TenantID)
	}
	log := o.logger.WithContext(ctx).WithFields(fernctx.LogFields(ctx))

	current, err := o.checkpoints.ReadStatus(ctx, p.key)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current.Status.State, models.UnitStateRunning) {
		return nil, fernerrors.NewTransitionError(p.unit.UnitID, string(current.Status.State), string(models.UnitStateRunning))
	}

	startedAt := o.now()
	status := current.Status
	status.State = models.UnitStateRunning
	status.LastRunID = p.runID
	status.LastRunAt = &startedAt
	status.LastError = ""
	status.Stats = nil

	version, err := o.checkpoints.WriteStatus(ctx, p.key, status, current.Version)
	if err != nil {
		if fernerrors.IsCASMismatch(err) {
			metrics.CheckpointConflictsTotal.WithLabelValues(checkpoint.PrefixState).Inc()
		}
		log.WithError(err).Warn("failed to move unit to RUNNING")
		return nil, err
	}
	log.Infof("unit run started in %s mode", p.mode)

	r := &run{ctx: ctx, plan: p, startedAt: startedAt, statusVersion: version, status: status}
	o.recordStarted(r)
	return r, nil
}

func (o *Orchestrator) prepare(ctx context.Context, req RunRequest) (plan, error) {
	endpoint, err := o.resolver.Endpoint(req.EndpointID)
	if err != nil {
		return plan{}, err
	}
	if !o.registry.HasDriver(endpoint.DriverID) {
		return plan{}, fernerrors.NewConfigurationError("orchestrator", "driver %q is not registered", endpoint.DriverID).WithField("driver")
	}

	unit, err := o.Unit(ctx, endpoint.ID, req.UnitID)
	if err != nil {
		return plan{}, err
	}
	mode := unit.ResolveMode(req.Mode)
	if err := units.ValidateMode(unit, mode); err != nil {
		return plan{}, err
	}

	switch req.DataMode {
	case "", DataModeReset:
	default:
		return plan{}, fernerrors.NewConfigurationError("orchestrator", "unknown data mode %q", req.DataMode).WithField("dataMode")
	}

	sinkID := req.SinkID
	var sinkConfig map[string]any
	if req.SinkEndpointID != "" {
		se, err := o.resolver.SinkEndpoint(req.SinkEndpointID)
		if err != nil {
			return plan{}, err
		}
		if sinkID != "" && sinkID != se.SinkID {
			return plan{}, fernerrors.NewConfigurationError("orchestrator",
				"sink %q does not match sink endpoint %q (%s)", sinkID, se.ID, se.SinkID).WithField("sinkId")
		}
		sinkID = se.SinkID
		sinkConfig = se.Config
	}
	if sinkID == "" {
		sinkID = unit.DefaultSinkID
	}
	if sinkID == "" {
		return plan{}, fernerrors.NewConfigurationError("orchestrator", "no sink selected for unit %q", unit.UnitID).WithField("sinkId")
	}
	s, err := o.registry.NewSink(sinkID)
	if err != nil {
		return plan{}, fernerrors.NewConfigurationError("orchestrator", "sink %q is not registered", sinkID).WithField("sinkId")
	}
	if v, ok := s.(sink.ConfigValidator); ok {
		if err := v.ValidateConfig(sinkConfig); err != nil {
			return plan{}, err
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return plan{
		runID:      runID,
		endpoint:   endpoint,
		unit:       unit,
		mode:       mode,
		reset:      req.DataMode == DataModeReset,
		sinkID:     sinkID,
		sinkEPID:   req.SinkEndpointID,
		sinkConfig: sinkConfig,
		key:        checkpoint.NewKey(endpoint.Vendor, endpoint.ID, unit.UnitID, sinkID),
	}, nil
}

func (o *Orchestrator) complete(r *run) RunResult {
	ctx, span := tracing.StartSpan(r.ctx, "orchestrator.RunUnit",
		attribute.String("run_id", r.plan.runID),
		attribute.String("endpoint_id", r.plan.endpoint.ID),
		attribute.String("unit_id", r.plan.unit.UnitID),
		attribute.String("sink_id", r.plan.sinkID),
		attribute.String("mode", string(r.plan.mode)))
	defer span.End()
	log := o.logger.WithContext(ctx).WithFields(fernctx.LogFields(ctx))

	metrics.UnitRunsInFlight.Inc()
	defer metrics.UnitRunsInFlight.Dec()

	result, runErr := o.execute(ctx, r)
	result.RunID = r.plan.runID
	result.Mode = r.plan.mode
	result.State = models.UnitStateSucceeded
	if runErr != nil {
		tracing.RecordError(span, runErr, "unit run failed")
		result.State = models.UnitStateFailed
		result.Error = runErr.Error()
		log.WithError(runErr).Error("unit run failed")
	}

	// The final status write must land even when the run was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	result.State = o.finishStatus(finishCtx, r, result)

	duration := o.now().Sub(r.startedAt)
	metrics.UnitRunsTotal.WithLabelValues(r.plan.endpoint.ID, r.plan.sinkID, string(result.State)).Inc()
	metrics.UnitRunDuration.WithLabelValues(r.plan.endpoint.ID, r.plan.sinkID).Observe(duration.Seconds())
	o.recordFinished(finishCtx, r, result)

	log.WithFields(map[string]any{
		"state":    result.State,
		"upserts":  result.Stats.Upserts,
		"edges":    result.Stats.Edges,
		"skipped":  result.Stats.Skipped,
		"batches":  result.Batches,
		"duration": duration.String(),
	}).Info("unit run finished")
	return result
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (RunResult, error) {
	p := r.plan
	result := RunResult{}

	snap, err := o.checkpoints.Read(ctx, p.key)
	if err != nil {
		return result, err
	}
	var previous *models.Checkpoint
	if p.mode == models.RunModeIncremental && !p.reset {
		previous = snap.Checkpoint
	}

	d, err := o.registry.NewDriver(p.endpoint.DriverID)
	if err != nil {
		return result, err
	}
	s, err := o.registry.NewSink(p.sinkID)
	if err != nil {
		return result, err
	}

	sc := sink.Context{
		EndpointID:     p.endpoint.ID,
		UnitID:         p.unit.UnitID,
		SinkID:         p.sinkID,
		RunID:          p.runID,
		SinkEndpointID: p.sinkEPID,
		CdmModelID:     p.unit.CdmModelID,
		TenantID:       p.endpoint.TenantID,
		Config:         p.sinkConfig,
	}
	if err := s.Begin(ctx, sc); err != nil {
		return result, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := s.Abort(context.WithoutCancel(ctx), sc); err != nil {
			o.logger.WithContext(ctx).WithError(err).Warn("sink abort failed")
		}
	}()

	synced, err := d.SyncUnit(ctx, driver.SyncRequest{
		EndpointID: p.endpoint.ID,
		Unit:       p.unit,
		Mode:       p.mode,
		Checkpoint: previous,
		Config:     p.endpoint.Config,
	})
	if err != nil {
		return result, fmt.Errorf("driver %s sync failed: %w", p.endpoint.DriverID, err)
	}
	for _, syncErr := range synced.Errors {
		o.logger.WithContext(ctx).WithError(syncErr).Warn("driver reported a recoverable error")
	}

	for i, batch := range synced.Batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		started := time.Now()
		stats, err := s.WriteBatch(ctx, batch, sc)
		metrics.SinkBatchDuration.WithLabelValues(p.sinkID).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.SinkBatchesTotal.WithLabelValues(p.sinkID, "error").Inc()
			return result, fmt.Errorf("batch %d: %w", i, err)
		}
		metrics.SinkBatchesTotal.WithLabelValues(p.sinkID, "success").Inc()
		metrics.RecordSinkStats(p.sinkID, stats.Upserts, stats.Edges, stats.Skipped)
		result.Stats = result.Stats.Add(stats)
		result.Batches++
	}

	if err := s.Commit(ctx, sc); err != nil {
		return result, err
	}
	committed = true

	now := o.now()
	next := synced.NewCheckpoint
	next.LastUpdatedAt = &now
	next.LastRunID = p.runID
	next.LastError = ""
	next.Stats = result.Stats.Map()
	next.Stats["batches"] = result.Batches
	next.Stats["sourceEvents"] = len(synced.SourceEventIDs)
	next.Stats["driverErrors"] = len(synced.Errors)
	if next.Metadata == nil {
		next.Metadata = map[string]any{}
	}
	next.Metadata["mode"] = string(p.mode)
	next.Metadata["sinkId"] = p.sinkID
	if synced.Stats != nil {
		next.Metadata["driver"] = synced.Stats
	}

	if _, err := o.checkpoints.Write(ctx, p.key, next, snap.Version); err != nil {
		if fernerrors.IsCASMismatch(err) {
			metrics.CheckpointConflictsTotal.WithLabelValues(checkpoint.PrefixCheckpoint).Inc()
		}
		return result, err
	}
	result.Checkpoint = &next
	result.SourceEventIDs = synced.SourceEventIDs
	r.status.Stats = next.Stats
	return result, nil
}

// finishStatus writes the terminal status. When an operator paused the unit
// while it ran, the pause wins and only the outcome fields are recorded.
func (o *Orchestrator) finishStatus(ctx context.Context, r *run, result RunResult) models.UnitState {
	log := o.logger.WithContext(ctx).WithFields(fernctx.LogFields(ctx))

	status := r.status
	status.State = result.State
	status.LastError = result.Error
	if status.Stats == nil {
		status.Stats = result.Stats.Map()
		status.Stats["batches"] = result.Batches
	}

	_, err := o.checkpoints.WriteStatus(ctx, r.plan.key, status, r.statusVersion)
	if err == nil {
		return status.State
	}
	if !fernerrors.IsCASMismatch(err) {
		log.WithError(err).Error("failed to write final unit status")
		return status.State
	}
	metrics.CheckpointConflictsTotal.WithLabelValues(checkpoint.PrefixState).Inc()

	current, readErr := o.checkpoints.ReadStatus(ctx, r.plan.key)
	if readErr != nil {
		log.WithError(readErr).Error("failed to re-read unit status after conflict")
		return status.State
	}
	if current.Status.State != models.UnitStatePaused {
		log.WithField("state", current.Status.State).Warn("unit status changed during run, leaving it as is")
		return current.Status.State
	}

	status.State = models.UnitStatePaused
	if _, err := o.checkpoints.WriteStatus(ctx, r.plan.key, status, current.Version); err != nil {
		log.WithError(err).Error("failed to record run outcome on paused unit")
	}
	log.Info("unit was paused during the run, keeping PAUSED")
	return models.UnitStatePaused
}

func (o *Orchestrator) recordStarted(r *run) {
	p := r.plan
	entry := Run{
		RunID:          p.runID,
		TenantID:       p.endpoint.TenantID,
		EndpointID:     p.endpoint.ID,
		UnitID:         p.unit.UnitID,
		SinkID:         p.sinkID,
		SinkEndpointID: p.sinkEPID,
		Mode:           p.mode,
		State:          models.UnitStateRunning,
		StartedAt:      r.startedAt,
	}
	if err := o.runs.RunStarted(r.ctx, entry); err != nil {
		o.logger.WithContext(r.ctx).WithError(err).Warn("failed to record run start")
	}
	o.publish(r.ctx, &events.RunEvent{
		Type:       events.TypeRunStarted,
		RunID:      p.runID,
		TenantID:   p.endpoint.TenantID,
		EndpointID: p.endpoint.ID,
		UnitID:     p.unit.UnitID,
		SinkID:     p.sinkID,
		Mode:       string(p.mode),
		State:      string(models.UnitStateRunning),
		Timestamp:  r.startedAt,
	})
}

func (o *Orchestrator) recordFinished(ctx context.Context, r *run, result RunResult) {
	p := r.plan
	finished := o.now()
	stats := result.Stats.Map()
	stats["batches"] = result.Batches

	entry := Run{
		RunID:          p.runID,
		TenantID:       p.endpoint.TenantID,
		EndpointID:     p.endpoint.ID,
		UnitID:         p.unit.UnitID,
		SinkID:         p.sinkID,
		SinkEndpointID: p.sinkEPID,
		Mode:           p.mode,
		State:          result.State,
		Stats:          stats,
		Error:          result.Error,
		StartedAt:      r.startedAt,
		FinishedAt:     &finished,
	}
	if err := o.runs.RunFinished(ctx, entry); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("failed to record run outcome")
	}

	o.publish(ctx, &events.RunEvent{
		Type:           events.TypeRunCompleted,
		RunID:          p.runID,
		TenantID:       p.endpoint.TenantID,
		EndpointID:     p.endpoint.ID,
		UnitID:         p.unit.UnitID,
		SinkID:         p.sinkID,
		Mode:           string(p.mode),
		State:          string(result.State),
		Stats:          stats,
		SourceEventIDs: result.SourceEventIDs,
		Error:          result.Error,
		Timestamp:      finished,
	})
}

func (o *Orchestrator) publish(ctx context.Context, evt *events.RunEvent) {
	if err := o.publisher.PublishRunEvent(ctx, evt); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("failed to publish %s event", evt.Type)
	}
}
