package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestService_ReadMissing(t *testing.T) {
	svc := newTestService()

	snap, err := svc.Read(context.Background(), NewKey("jira", "ep", "u", "cdm"))
	require.NoError(t, err)
	assert.Nil(t, snap.Checkpoint)
	assert.Equal(t, NoVersion, snap.Version)
}

func TestService_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("jira", "ep", "u", "cdm")

	version, err := svc.Write(ctx, key, models.Checkpoint{
		Cursor:    "2024-01-01T00:00:00Z",
		LastRunID: "run-1",
		Stats:     map[string]any{"upserts": 3},
	}, NoVersion)
	require.NoError(t, err)

	snap, err := svc.Read(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, snap.Checkpoint)
	assert.Equal(t, version, snap.Version)
	assert.Equal(t, "2024-01-01T00:00:00Z", snap.Checkpoint.Cursor)
	assert.Equal(t, "run-1", snap.Checkpoint.LastRunID)
	assert.EqualValues(t, 3, snap.Checkpoint.Stats["upserts"])
}

func TestService_WriteStaleVersion(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("", "ep", "u", "")

	v1, err := svc.Write(ctx, key, models.Checkpoint{Cursor: 1}, NoVersion)
	require.NoError(t, err)
	_, err = svc.Write(ctx, key, models.Checkpoint{Cursor: 2}, v1)
	require.NoError(t, err)

	_, err = svc.Write(ctx, key, models.Checkpoint{Cursor: 3}, v1)
	assert.ErrorIs(t, err, fernerrors.ErrCASMismatch)

	snap, err := svc.Read(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Checkpoint.Cursor)
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("", "ep", "u", "kb")

	_, err := svc.Update(ctx, key, func(current *models.Checkpoint) (models.Checkpoint, error) {
		assert.Nil(t, current)
		return models.Checkpoint{Cursor: "a"}, nil
	})
	require.NoError(t, err)

	_, err = svc.Update(ctx, key, func(current *models.Checkpoint) (models.Checkpoint, error) {
		require.NotNil(t, current)
		next := *current
		next.Cursor = current.Cursor.(string) + "b"
		return next, nil
	})
	require.NoError(t, err)

	snap, err := svc.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ab", snap.Checkpoint.Cursor)

	t.Run("transform error aborts write", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := svc.Update(ctx, key, func(*models.Checkpoint) (models.Checkpoint, error) {
			return models.Checkpoint{}, boom
		})
		assert.ErrorIs(t, err, boom)

		snap, err := svc.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "ab", snap.Checkpoint.Cursor)
	})
}

func TestService_ReadFlattensNestedCursor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("", "ep", "u", "")

	_, err := svc.Store().Put(ctx, key.String(), []byte(`{"cursor":{"cursor":{"cursor":"w-42"}}}`), NoVersion)
	require.NoError(t, err)

	snap, err := svc.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "w-42", snap.Checkpoint.Cursor)
}

func TestService_Reset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("", "ep", "u", "")

	_, err := svc.Write(ctx, key, models.Checkpoint{Cursor: "x"}, NoVersion)
	require.NoError(t, err)
	_, err = svc.SaveTransient(ctx, key, map[string]any{"page": 2}, NoVersion)
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx, key))

	snap, err := svc.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, snap.Checkpoint)

	transient, err := svc.LoadTransient(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, transient.State)

	// reset of a missing key is a no-op
	require.NoError(t, svc.Reset(ctx, key))
}

func TestService_Status(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	key := NewKey("", "ep", "u", "cdm")

	snap, err := svc.ReadStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.UnitStateIdle, snap.Status.State)
	assert.Equal(t, NoVersion, snap.Version)

	v, err := svc.WriteStatus(ctx, key, models.UnitStatus{State: models.UnitStateRunning, LastRunID: "r1"}, snap.Version)
	require.NoError(t, err)

	_, err = svc.WriteStatus(ctx, key, models.UnitStatus{State: models.UnitStateFailed}, snap.Version)
	assert.ErrorIs(t, err, fernerrors.ErrCASMismatch)

	snap, err = svc.ReadStatus(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, v, snap.Version)
	assert.Equal(t, models.UnitStateRunning, snap.Status.State)

	// status is shared by every sink of the unit
	other, err := svc.ReadStatus(ctx, NewKey("", "ep", "u", "kb"))
	require.NoError(t, err)
	assert.Equal(t, models.UnitStateRunning, other.Status.State)
}

func TestFlattenCursor(t *testing.T) {
	assert.Nil(t, FlattenCursor(nil))
	assert.Equal(t, "x", FlattenCursor("x"))
	assert.Equal(t, "x", FlattenCursor(map[string]any{"cursor": map[string]any{"cursor": "x"}}))
	assert.Equal(t, map[string]any{"page": 2.0}, FlattenCursor(map[string]any{"cursor": map[string]any{"page": 2.0}}))
}
