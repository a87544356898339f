package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/driver"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sink"
)

type namedSink struct{ name string }

func (s *namedSink) Begin(context.Context, sink.Context) error { return nil }
func (s *namedSink) WriteBatch(context.Context, models.NormalizedBatch, sink.Context) (models.SinkStats, error) {
	return models.SinkStats{}, nil
}
func (s *namedSink) Commit(context.Context, sink.Context) error { return nil }
func (s *namedSink) Abort(context.Context, sink.Context) error  { return nil }

type emptyDriver struct{}

func (emptyDriver) ListUnits(context.Context, string) ([]models.UnitDescriptor, error) {
	return nil, nil
}
func (emptyDriver) SyncUnit(context.Context, driver.SyncRequest) (driver.SyncResult, error) {
	return driver.SyncResult{}, nil
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := New()
	r.RegisterSink("cdm", func() sink.Sink { return &namedSink{name: "first"} })
	r.RegisterSink("cdm", func() sink.Sink { return &namedSink{name: "second"} })

	s, err := r.NewSink("cdm")
	require.NoError(t, err)
	assert.Equal(t, "second", s.(*namedSink).name)
}

func TestRegistry_FreshInstancePerCall(t *testing.T) {
	r := New()
	r.RegisterSink("kb", func() sink.Sink { return &namedSink{} })

	a, err := r.NewSink("kb")
	require.NoError(t, err)
	b, err := r.NewSink("kb")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_UnknownIDs(t *testing.T) {
	r := New()

	_, err := r.NewSink("missing")
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	_, err = r.NewDriver("missing")
	assert.ErrorIs(t, err, fernerrors.ErrConfiguration)

	assert.False(t, r.HasSink("missing"))
	assert.False(t, r.HasDriver("missing"))
}

func TestRegistry_IDs(t *testing.T) {
	r := New()
	r.RegisterSink("kb", func() sink.Sink { return &namedSink{} })
	r.RegisterSink("cdm", func() sink.Sink { return &namedSink{} })
	r.RegisterDriver("jsonfile", func() driver.Driver { return emptyDriver{} })

	assert.Equal(t, []string{"cdm", "kb"}, r.SinkIDs())
	assert.Equal(t, []string{"jsonfile"}, r.DriverIDs())
	assert.True(t, r.HasDriver("jsonfile"))
}

func TestRegistry_IndependentInstances(t *testing.T) {
	a := New()
	b := New()
	a.RegisterSink("cdm", func() sink.Sink { return &namedSink{} })

	assert.True(t, a.HasSink("cdm"))
	assert.False(t, b.HasSink("cdm"))
}
