// Package cdm writes normalized records into typed canonical data model
// tables in postgres.
package cdm

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sink"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SinkID is the registry id of the CDM sink.
const SinkID = "cdm"

// Session is one open transaction against the CDM database.
type Session interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Opener opens a transaction for the resolved sink configuration.
type Opener func(ctx context.Context, cfg Config) (Session, error)

// Sink upserts batches into CDM tables. Every statement of a run executes in
// the transaction opened by Begin.
type Sink struct {
	catalog     *Catalog
	open        Opener
	provisioner *Provisioner
	logger      ectologger.Logger

	cfg         Config
	session     Session
	provisioned map[string]bool
	datasets    []DatasetRecord
}

func NewSink(catalog *Catalog, open Opener, provisioner *Provisioner, logger ectologger.Logger) *Sink {
	return &Sink{
		catalog:     catalog,
		open:        open,
		provisioner: provisioner,
		logger:      logger,
	}
}

// NewFactory returns a sink.Factory producing fresh CDM sinks that share the
// catalog, opener and provisioner.
func NewFactory(catalog *Catalog, open Opener, provisioner *Provisioner, logger ectologger.Logger) sink.Factory {
	return func() sink.Sink {
		return NewSink(catalog, open, provisioner, logger)
	}
}

// ValidateConfig parses the sink endpoint configuration without connecting.
func (s *Sink) ValidateConfig(config map[string]any) error {
	_, err := ParseConfig(config)
	return err
}

func (s *Sink) Begin(ctx context.Context, sc sink.Context) error {
	if s.session != nil {
		return errors.New("cdm sink already begun")
	}
	cfg, err := ParseConfig(sc.Config)
	if err != nil {
		return err
	}
	session, err := s.open(ctx, cfg)
	if err != nil {
		return fernerrors.NewStorageError("postgres", "begin", err)
	}
	s.cfg = cfg
	s.session = session
	s.provisioned = make(map[string]bool)
	s.datasets = nil
	return nil
}

type modelGroup struct {
	def  TableDefinition
	rows []Row
}

func (s *Sink) WriteBatch(ctx context.Context, batch models.NormalizedBatch, sc sink.Context) (models.SinkStats, error) {
	var stats models.SinkStats
	if s.session == nil {
		return stats, errors.New("cdm sink used before Begin")
	}
	if batch.Len() == 0 {
		return stats, nil
	}

	ctx, span := tracing.StartSpan(ctx, "cdm.Sink.WriteBatch",
		attribute.String("unit_id", sc.UnitID),
		attribute.Int("records", batch.Len()))
	defer span.End()

	groups, err := s.extract(batch, sc)
	if err != nil {
		tracing.RecordError(span, err, "failed to extract cdm rows")
		return stats, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"endpoint_id": sc.EndpointID,
		"unit_id":     sc.UnitID,
		"run_id":      sc.RunID,
	})

	for _, g := range groups {
		rows, dropped := Dedup(g.rows)
		stats.Skipped += dropped
		if len(rows) == 0 {
			continue
		}

		if s.cfg.AutoProvision && s.provisioner != nil && !s.provisioned[g.def.ModelID] {
			rec, err := s.provisioner.Ensure(ctx, s.session, s.cfg, g.def, sc.SinkEndpointID)
			if err != nil {
				tracing.RecordError(span, err, "failed to provision cdm table")
				return stats, err
			}
			s.provisioned[g.def.ModelID] = true
			s.datasets = append(s.datasets, rec)
		}

		table := QualifiedTable(s.cfg.Schema, s.cfg.TablePrefix, g.def.Suffix)
		for _, stmt := range BuildUpsert(table, g.def, rows) {
			if _, err := s.session.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
				tracing.RecordError(span, err, "failed to upsert cdm rows")
				log.WithError(err).Errorf("failed to upsert %d rows into %s", stmt.Rows, table)
				return stats, fernerrors.NewStorageError("postgres", "upsert", err)
			}
			stats.Upserts += stmt.Rows
		}
		log.Debugf("upserted %d rows into %s (%d dropped without key)", len(rows), table, dropped)
	}
	return stats, nil
}

// extract resolves every model and extracts every row before any statement
// runs, so a bad record fails the batch without partial writes.
func (s *Sink) extract(batch models.NormalizedBatch, sc sink.Context) ([]*modelGroup, error) {
	var order []*modelGroup
	byModel := make(map[string]*modelGroup)

	for i, rec := range batch.Records {
		modelID := sc.CdmModelID
		if modelID == "" {
			modelID = rec.EntityType
		}
		g, ok := byModel[modelID]
		if !ok {
			def, err := s.catalog.Lookup(modelID)
			if err != nil {
				return nil, err
			}
			g = &modelGroup{def: def}
			byModel[modelID] = g
			order = append(order, g)
		}
		rows, err := ExtractRows(g.def, batch.Records[i:i+1], i)
		if err != nil {
			return nil, err
		}
		g.rows = append(g.rows, rows...)
	}
	return order, nil
}

func (s *Sink) Commit(ctx context.Context, _ sink.Context) error {
	if s.session == nil {
		return nil
	}
	session := s.session
	datasets := s.datasets
	s.session = nil
	s.datasets = nil
	if err := session.Commit(ctx); err != nil {
		return fernerrors.NewStorageError("postgres", "commit", err)
	}
	if len(datasets) > 0 && s.provisioner != nil {
		s.provisioner.Register(ctx, datasets)
	}
	return nil
}

func (s *Sink) Abort(ctx context.Context, _ sink.Context) error {
	if s.session == nil {
		return nil
	}
	session := s.session
	s.session = nil
	s.datasets = nil
	if err := session.Rollback(ctx); err != nil {
		return fernerrors.NewStorageError("postgres", "rollback", err)
	}
	return nil
}
