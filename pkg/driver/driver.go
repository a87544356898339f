// Package driver defines the source contract connectors implement.
package driver

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

type SyncRequest struct {
	EndpointID string
	Unit       models.UnitDescriptor
	Mode       models.RunMode
	// Checkpoint is nil on a first run and on FULL runs.
	Checkpoint *models.Checkpoint
	// Config is the resolved source endpoint configuration.
	Config map[string]any
}

type SyncResult struct {
	NewCheckpoint  models.Checkpoint
	Stats          map[string]any
	Batches        []models.NormalizedBatch
	SourceEventIDs []string
	Errors         []error
}

type Driver interface {
	ListUnits(ctx context.Context, endpointID string) ([]models.UnitDescriptor, error)
	SyncUnit(ctx context.Context, req SyncRequest) (SyncResult, error)
}

// Factory builds a driver instance.
type Factory func() Driver
