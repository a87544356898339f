package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Snapshot is a checkpoint together with the version it was read at. A nil
// Checkpoint means none has been written yet.
type Snapshot struct {
	Checkpoint *models.Checkpoint
	Version    Version
}

// StatusSnapshot is a unit status with the version it was read at.
type StatusSnapshot struct {
	Status  models.UnitStatus
	Version Version
}

// TransientSnapshot is per-unit scratch state with its version.
type TransientSnapshot struct {
	State   map[string]any
	Version Version
}

// Service reads and writes checkpoints, unit status and transient state as
// JSON documents on top of a Store. It never retries on CAS conflicts.
type Service struct {
	store  Store
	logger ectologger.Logger
}

func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Store() Store {
	return s.store
}

// Read returns the current checkpoint for key. Legacy nested cursors are
// flattened on the way out.
func (s *Service) Read(ctx context.Context, key Key) (Snapshot, error) {
	var cp models.Checkpoint
	version, found, err := readJSON(ctx, s.store, key.String(), &cp)
	if err != nil || !found {
		return Snapshot{}, err
	}
	cp.Cursor = FlattenCursor(cp.Cursor)
	return Snapshot{Checkpoint: &cp, Version: version}, nil
}

// Write replaces the checkpoint for key if it is still at expected.
func (s *Service) Write(ctx context.Context, key Key, cp models.Checkpoint, expected Version) (Version, error) {
	cp.Cursor = FlattenCursor(cp.Cursor)
	version, err := writeJSON(ctx, s.store, key.String(), cp, expected)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"key":              key.String(),
			"expected_version": string(expected),
		}).Warn("checkpoint write rejected")
		return NoVersion, err
	}
	return version, nil
}

// Update reads the checkpoint, applies fn and writes the result against the
// version it read. fn receives nil when no checkpoint exists yet.
func (s *Service) Update(ctx context.Context, key Key, fn func(current *models.Checkpoint) (models.Checkpoint, error)) (Version, error) {
	snap, err := s.Read(ctx, key)
	if err != nil {
		return NoVersion, err
	}
	next, err := fn(snap.Checkpoint)
	if err != nil {
		return NoVersion, err
	}
	return s.Write(ctx, key, next, snap.Version)
}

// Reset deletes the checkpoint and any transient state of key.
func (s *Service) Reset(ctx context.Context, key Key) error {
	if err := s.store.Delete(ctx, key.String(), NoVersion); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key.TransientKey().String(), NoVersion); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithField("key", key.String()).Info("checkpoint reset")
	return nil
}

// ReadStatus returns the unit status, or an IDLE status when none is stored.
func (s *Service) ReadStatus(ctx context.Context, key Key) (StatusSnapshot, error) {
	status := models.NewUnitStatus()
	version, _, err := readJSON(ctx, s.store, key.StateKey().String(), &status)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{Status: status, Version: version}, nil
}

func (s *Service) WriteStatus(ctx context.Context, key Key, status models.UnitStatus, expected Version) (Version, error) {
	return writeJSON(ctx, s.store, key.StateKey().String(), status, expected)
}

func (s *Service) LoadTransient(ctx context.Context, key Key) (TransientSnapshot, error) {
	var state map[string]any
	version, _, err := readJSON(ctx, s.store, key.TransientKey().String(), &state)
	if err != nil {
		return TransientSnapshot{}, err
	}
	return TransientSnapshot{State: state, Version: version}, nil
}

func (s *Service) SaveTransient(ctx context.Context, key Key, state map[string]any, expected Version) (Version, error) {
	return writeJSON(ctx, s.store, key.TransientKey().String(), state, expected)
}

// FlattenCursor unwraps cursors that were stored wrapped in one or more
// {"cursor": ...} envelopes.
func FlattenCursor(cursor any) any {
	for {
		m, ok := cursor.(map[string]any)
		if !ok {
			return cursor
		}
		inner, ok := m["cursor"]
		if !ok {
			return cursor
		}
		cursor = inner
	}
}

func readJSON(ctx context.Context, store Store, key string, dest any) (Version, bool, error) {
	raw, version, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return NoVersion, false, nil
	}
	if err != nil {
		return NoVersion, false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return NoVersion, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return version, true, nil
}

func writeJSON(ctx context.Context, store Store, key string, value any, expected Version) (Version, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return NoVersion, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Put(ctx, key, raw, expected)
}
