package orchestrator

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Run is one row of run history.
type Run struct {
	RunID          string           `json:"runId"`
	TenantID       string           `json:"tenantId,omitempty"`
	EndpointID     string           `json:"endpointId"`
	UnitID         string           `json:"unitId"`
	SinkID         string           `json:"sinkId"`
	SinkEndpointID string           `json:"sinkEndpointId,omitempty"`
	Mode           models.RunMode   `json:"mode"`
	State          models.UnitState `json:"state"`
	Stats          map[string]any   `json:"stats,omitempty"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"startedAt"`
	FinishedAt     *time.Time       `json:"finishedAt,omitempty"`
}

// RunRecorder persists run history. Failures to record are logged and never
// change the outcome of a run.
type RunRecorder interface {
	RunStarted(ctx context.Context, run Run) error
	RunFinished(ctx context.Context, run Run) error
}

type noopRecorder struct{}

func (noopRecorder) RunStarted(context.Context, Run) error  { return nil }
func (noopRecorder) RunFinished(context.Context, Run) error { return nil }
