package repositories_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/cdm"
	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() || os.Getenv("DB_HOST") == "" {
		t.Skip("Skipping postgres integration test")
	}

	name := envOr("DB_NAME", "fern")
	dsn := database.DSN(os.Getenv("DB_HOST"), envOr("DB_PORT", "5432"), envOr("DB_USER_NAME", "user"),
		envOr("DB_PASSWORD", "password"), name, "disable")
	db, err := database.Connect(context.Background(), dsn, database.PoolConfig{}, getTestLogger())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(getTestLogger(), &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.Migrate(db, name))
	return db
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, repositories.DefaultRunLimit, repositories.ClampLimit(0))
	assert.Equal(t, repositories.DefaultRunLimit, repositories.ClampLimit(-3))
	assert.Equal(t, 10, repositories.ClampLimit(10))
	assert.Equal(t, repositories.MaxRunLimit, repositories.ClampLimit(10_000))
}

func TestRunRepository_Lifecycle(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewRunRepository(db, getTestLogger())
	ctx := context.Background()

	endpointID := "ep-" + uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)
	run := orchestrator.Run{
		RunID:      uuid.NewString(),
		EndpointID: endpointID,
		UnitID:     "issues",
		SinkID:     "cdm",
		Mode:       models.RunModeIncremental,
		State:      models.UnitStateRunning,
		StartedAt:  started,
	}
	require.NoError(t, repo.RunStarted(ctx, run))
	// Recording the same start twice is harmless.
	require.NoError(t, repo.RunStarted(ctx, run))

	finished := started.Add(time.Second)
	run.State = models.UnitStateSucceeded
	run.Stats = map[string]any{"upserts": 3}
	run.FinishedAt = &finished
	require.NoError(t, repo.RunFinished(ctx, run))

	runs, err := repo.ListRuns(ctx, endpointID, "issues", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.UnitStateSucceeded, runs[0].State)
	assert.EqualValues(t, 3, runs[0].Stats["upserts"])
	require.NotNil(t, runs[0].FinishedAt)

	missing := run
	missing.RunID = uuid.NewString()
	assert.ErrorIs(t, repo.RunFinished(ctx, missing), fernerrors.ErrNotFound)
}

func TestCatalogRepository_RegisterDatasetIsIdempotent(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewCatalogRepository(db, getTestLogger())
	ctx := context.Background()

	rec := cdm.DatasetRecord{
		Key:             "public.cdm_" + uuid.NewString()[:8],
		Schema:          "public",
		Entity:          "cdm_work_item",
		SinkEndpointID:  "warehouse",
		CdmModelID:      "cdm.work.item",
		Autoprovisioned: true,
	}
	require.NoError(t, repo.RegisterDataset(ctx, rec))
	require.NoError(t, repo.RegisterDataset(ctx, rec))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM catalog_datasets WHERE key = $1", rec.Key))
	assert.Equal(t, 1, count)
}
