package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	kvTable       = "ingestion_kv"
	kvVersionNext = "nextval('ingestion_kv_version_seq')"
)

// PostgresStore keeps every key in one row of ingestion_kv. Versions come from
// a shared sequence so a deleted and recreated key never reuses a version.
type PostgresStore struct {
	db     database.DB
	logger ectologger.Logger
}

func NewPostgresStore(db database.DB, logger ectologger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, Version, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.PostgresStore.Get", attribute.String("key", key))
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("value", "version").From(kvTable).Where(sb.Equal("key", key))
	query, args := sb.Build()

	var row struct {
		Value   []byte `db:"value"`
		Version int64  `db:"version"`
	}
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NoVersion, fmt.Errorf("checkpoint %s: %w", key, ErrNotFound)
	}
	if err != nil {
		tracing.RecordError(span, err, "failed to read key")
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("failed to read checkpoint key")
		return nil, NoVersion, fernerrors.NewStorageError("postgres", "get", err)
	}

	return row.Value, formatVersion(row.Version), nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, expected Version) (Version, error) {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.PostgresStore.Put", attribute.String("key", key))
	defer span.End()

	var (
		query string
		args  []any
	)
	if expected == NoVersion {
		ib := database.NewInsertBuilder()
		ib.InsertInto(kvTable).
			Cols("key", "value", "version", "updated_at").
			Values(key, string(value), sqlbuilder.Raw(kvVersionNext), sqlbuilder.Raw("NOW()"))
		ib.OnConflictDoNothing("key")
		ib.SQL("RETURNING version")
		query, args = ib.Build()
	} else {
		expectedNum, err := parseVersion(expected)
		if err != nil {
			return NoVersion, s.mismatch(ctx, key, expected)
		}
		ub := database.NewUpdateBuilder()
		ub.Update(kvTable).
			Set(
				ub.Assign("value", string(value)),
				"version = "+kvVersionNext,
				"updated_at = NOW()",
			).
			Where(ub.Equal("key", key), ub.Equal("version", expectedNum))
		ub.SQL("RETURNING version")
		query, args = ub.Build()
	}

	var next int64
	err := s.db.QueryRowxContext(ctx, query, args...).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return NoVersion, s.mismatch(ctx, key, expected)
	}
	if err != nil {
		tracing.RecordError(span, err, "failed to write key")
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("failed to write checkpoint key")
		return NoVersion, fernerrors.NewStorageError("postgres", "put", err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"key":     key,
		"version": next,
	}).Debug("wrote checkpoint key")
	return formatVersion(next), nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string, expected Version) error {
	ctx, span := tracing.StartSpan(ctx, "checkpoint.PostgresStore.Delete", attribute.String("key", key))
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(kvTable)
	if expected == NoVersion {
		db.Where(db.Equal("key", key))
	} else {
		expectedNum, err := parseVersion(expected)
		if err != nil {
			return s.deleteMismatch(ctx, key, expected)
		}
		db.Where(db.Equal("key", key), db.Equal("version", expectedNum))
	}
	query, args := db.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err, "failed to delete key")
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("failed to delete checkpoint key")
		return fernerrors.NewStorageError("postgres", "delete", err)
	}

	if expected != NoVersion {
		if n, _ := res.RowsAffected(); n == 0 {
			return s.deleteMismatch(ctx, key, expected)
		}
	}
	return nil
}

// deleteMismatch reports a failed conditional delete. A key that is already
// gone is not a conflict.
func (s *PostgresStore) deleteMismatch(ctx context.Context, key string, expected Version) error {
	_, current, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fernerrors.NewCASMismatchError(key, string(expected), string(current))
}

// mismatch builds the CAS error with the version currently stored, if any.
func (s *PostgresStore) mismatch(ctx context.Context, key string, expected Version) error {
	_, current, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return fernerrors.NewCASMismatchError(key, string(expected), string(current))
}

func formatVersion(v int64) Version {
	return Version(strconv.FormatInt(v, 10))
}

func parseVersion(v Version) (int64, error) {
	return strconv.ParseInt(string(v), 10, 64)
}
