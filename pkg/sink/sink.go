// Package sink defines the destination contract every sink implements.
package sink

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Context identifies the run a sink is serving.
type Context struct {
	EndpointID     string
	UnitID         string
	SinkID         string
	RunID          string
	SinkEndpointID string
	CdmModelID     string
	// TenantID overrides the record org as graph tenant when set.
	TenantID string
	// Config is the resolved sink endpoint configuration.
	Config map[string]any
}

// Sink is opened once per run with Begin and closed with exactly one of
// Commit or Abort. WriteBatch is never called concurrently on one instance.
type Sink interface {
	Begin(ctx context.Context, sc Context) error
	WriteBatch(ctx context.Context, batch models.NormalizedBatch, sc Context) (models.SinkStats, error)
	Commit(ctx context.Context, sc Context) error
	Abort(ctx context.Context, sc Context) error
}

// ConfigValidator is implemented by sinks that can reject their endpoint
// configuration without doing any I/O. It is checked before a run starts.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) error
}

// Factory builds a fresh sink for one run.
type Factory func() Sink
