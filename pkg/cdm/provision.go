package cdm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

// Executor is the statement surface the sink and provisioner need.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DatasetRecord is the catalog entry written after a table is provisioned.
type DatasetRecord struct {
	Key             string
	Schema          string
	Entity          string
	SinkEndpointID  string
	CdmModelID      string
	Autoprovisioned bool
}

type CatalogRegistrar interface {
	RegisterDataset(ctx context.Context, rec DatasetRecord) error
}

// Provisioner creates CDM schemas and tables on demand.
type Provisioner struct {
	catalog CatalogRegistrar
	logger  ectologger.Logger
}

// NewProvisioner returns a provisioner. catalog may be nil.
func NewProvisioner(catalog CatalogRegistrar, logger ectologger.Logger) *Provisioner {
	return &Provisioner{catalog: catalog, logger: logger}
}

// CreateTableSQL renders the DDL for def under cfg.
func CreateTableSQL(cfg Config, def TableDefinition) string {
	cols := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		col := fmt.Sprintf("%s %s", pq.QuoteIdentifier(c.Name), c.SQLType)
		if c.Name == KeyColumn {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		QualifiedTable(cfg.Schema, cfg.TablePrefix, def.Suffix), strings.Join(cols, ", "))
}

// Ensure creates the schema and table for def if missing and returns the
// catalog entry describing it. The DDL runs on exec, so the entry should only
// be registered once exec's transaction has committed.
func (p *Provisioner) Ensure(ctx context.Context, exec Executor, cfg Config, def TableDefinition, sinkEndpointID string) (DatasetRecord, error) {
	schemaSQL := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(cfg.Schema))
	if _, err := exec.ExecContext(ctx, schemaSQL); err != nil {
		return DatasetRecord{}, fernerrors.NewStorageError("postgres", "create schema", err)
	}
	if _, err := exec.ExecContext(ctx, CreateTableSQL(cfg, def)); err != nil {
		return DatasetRecord{}, fernerrors.NewStorageError("postgres", "create table", err)
	}

	table := TableName(cfg.TablePrefix, def.Suffix)
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"schema":       cfg.Schema,
		"table":        table,
		"cdm_model_id": def.ModelID,
	}).Debug("cdm table provisioned")

	return DatasetRecord{
		Key:             cfg.Schema + "." + table,
		Schema:          cfg.Schema,
		Entity:          table,
		SinkEndpointID:  sinkEndpointID,
		CdmModelID:      def.ModelID,
		Autoprovisioned: true,
	}, nil
}

// Register records provisioned datasets in the catalog. Failures are logged
// and swallowed.
func (p *Provisioner) Register(ctx context.Context, recs []DatasetRecord) {
	if p.catalog == nil {
		return
	}
	for _, rec := range recs {
		if err := p.catalog.RegisterDataset(ctx, rec); err != nil {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"schema":       rec.Schema,
				"table":        rec.Entity,
				"cdm_model_id": rec.CdmModelID,
			}).WithError(err).Warn("failed to register provisioned dataset in catalog")
		}
	}
}
