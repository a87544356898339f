package orchestrator

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/checkpoint"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// ListUnits returns the catalog units of an endpoint, falling back to the
// driver's own listing when the catalog declares none.
func (o *Orchestrator) ListUnits(ctx context.Context, endpointID string) ([]models.UnitDescriptor, error) {
	list, err := o.resolver.ListUnits(endpointID)
	if err != nil || len(list) > 0 {
		return list, err
	}

	endpoint, err := o.resolver.Endpoint(endpointID)
	if err != nil {
		return nil, err
	}
	d, err := o.registry.NewDriver(endpoint.DriverID)
	if err != nil {
		return nil, err
	}
	return d.ListUnits(ctx, endpointID)
}

func (o *Orchestrator) Unit(ctx context.Context, endpointID, unitID string) (models.UnitDescriptor, error) {
	list, err := o.ListUnits(ctx, endpointID)
	if err != nil {
		return models.UnitDescriptor{}, err
	}
	for _, u := range list {
		if u.UnitID == unitID {
			return u, nil
		}
	}
	return models.UnitDescriptor{}, fernerrors.NotFoundf("unit %q not found on endpoint %q", unitID, endpointID)
}

func (o *Orchestrator) key(endpointID, unitID, sinkID string) (checkpoint.Key, error) {
	endpoint, err := o.resolver.Endpoint(endpointID)
	if err != nil {
		return checkpoint.Key{}, err
	}
	return checkpoint.NewKey(endpoint.Vendor, endpoint.ID, unitID, sinkID), nil
}

// Status returns the lifecycle record of a unit. Units that never ran are IDLE.
func (o *Orchestrator) Status(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error) {
	key, err := o.key(endpointID, unitID, "")
	if err != nil {
		return models.UnitStatus{}, err
	}
	snap, err := o.checkpoints.ReadStatus(ctx, key)
	if err != nil {
		return models.UnitStatus{}, err
	}
	return snap.Status, nil
}

// Pause marks a RUNNING unit as PAUSED. The in-flight run finishes its
// writes but leaves the unit PAUSED.
func (o *Orchestrator) Pause(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error) {
	return o.transition(ctx, endpointID, unitID, models.UnitStatePaused)
}

// Resume returns a PAUSED unit to IDLE.
func (o *Orchestrator) Resume(ctx context.Context, endpointID, unitID string) (models.UnitStatus, error) {
	return o.transition(ctx, endpointID, unitID, models.UnitStateIdle)
}

func (o *Orchestrator) transition(ctx context.Context, endpointID, unitID string, to models.UnitState) (models.UnitStatus, error) {
	key, err := o.key(endpointID, unitID, "")
	if err != nil {
		return models.UnitStatus{}, err
	}
	ctx = fernctx.SetUnit(ctx, endpointID, unitID, "")
	log := o.logger.WithContext(ctx).WithFields(fernctx.LogFields(ctx))

	snap, err := o.checkpoints.ReadStatus(ctx, key)
	if err != nil {
		return models.UnitStatus{}, err
	}
	if !models.CanTransition(snap.Status.State, to) {
		return models.UnitStatus{}, fernerrors.NewTransitionError(unitID, string(snap.Status.State), string(to))
	}

	status := snap.Status
	status.State = to
	if _, err := o.checkpoints.WriteStatus(ctx, key, status, snap.Version); err != nil {
		if fernerrors.IsCASMismatch(err) {
			metrics.CheckpointConflictsTotal.WithLabelValues(checkpoint.PrefixState).Inc()
		}
		return models.UnitStatus{}, err
	}
	log.Infof("unit moved from %s to %s", snap.Status.State, to)
	return status, nil
}

// checkpointKey resolves the key of a unit's checkpoint for sinkID, or for
// the unit's default sink when sinkID is empty.
func (o *Orchestrator) checkpointKey(ctx context.Context, endpointID, unitID, sinkID string) (checkpoint.Key, error) {
	if sinkID == "" {
		unit, err := o.Unit(ctx, endpointID, unitID)
		if err != nil {
			return checkpoint.Key{}, err
		}
		sinkID = unit.DefaultSinkID
	}
	if sinkID == "" {
		return checkpoint.Key{}, fernerrors.NewConfigurationError("orchestrator", "no sink selected for unit %q", unitID).WithField("sink")
	}
	return o.key(endpointID, unitID, sinkID)
}

// Checkpoint returns the stored checkpoint of a unit and sink.
func (o *Orchestrator) Checkpoint(ctx context.Context, endpointID, unitID, sinkID string) (checkpoint.Snapshot, error) {
	key, err := o.checkpointKey(ctx, endpointID, unitID, sinkID)
	if err != nil {
		return checkpoint.Snapshot{}, err
	}
	return o.checkpoints.Read(ctx, key)
}

// ResetCheckpoint deletes the checkpoint and transient state of a unit and
// sink so the next run starts from scratch. A RUNNING unit cannot be reset.
func (o *Orchestrator) ResetCheckpoint(ctx context.Context, endpointID, unitID, sinkID string) error {
	key, err := o.checkpointKey(ctx, endpointID, unitID, sinkID)
	if err != nil {
		return err
	}
	snap, err := o.checkpoints.ReadStatus(ctx, key)
	if err != nil {
		return err
	}
	if snap.Status.State == models.UnitStateRunning {
		return fernerrors.NewTransitionError(unitID, string(snap.Status.State), "reset")
	}
	return o.checkpoints.Reset(ctx, key)
}
