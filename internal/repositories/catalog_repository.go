package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/cdm"
	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const catalogDatasetsTable = "catalog_datasets"

// CatalogRepository records CDM tables the sink provisioned.
type CatalogRepository struct {
	*Repository
}

func NewCatalogRepository(db database.DB, logger ectologger.Logger) *CatalogRepository {
	return &CatalogRepository{Repository: NewRepository(db, logger)}
}

// RegisterDataset upserts the dataset row keyed by schema.table.
func (r *CatalogRepository) RegisterDataset(ctx context.Context, rec cdm.DatasetRecord) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.RegisterDataset", attribute.String("key", rec.Key))
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(catalogDatasetsTable).
		Cols("key", "schema_name", "entity", "sink_endpoint_id", "cdm_model_id", "autoprovisioned", "updated_at").
		Values(rec.Key, rec.Schema, rec.Entity, rec.SinkEndpointID, rec.CdmModelID, rec.Autoprovisioned, sqlbuilder.Raw("NOW()"))
	ib.OnConflictDoUpdate([]string{"key"}, []string{"schema_name", "entity", "sink_endpoint_id", "cdm_model_id", "autoprovisioned", "updated_at"})

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		tracing.RecordError(span, err, "failed to register dataset")
		r.logger.WithContext(ctx).WithError(err).WithField("key", rec.Key).Error("failed to register dataset")
		return fernerrors.NewStorageError("postgres", "register dataset", err)
	}

	r.logger.WithContext(ctx).WithField("key", rec.Key).Debugf("Upserted %s", catalogDatasetsTable)
	return nil
}
