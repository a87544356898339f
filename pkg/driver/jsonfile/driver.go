// Package jsonfile is a driver that replays normalized batches from JSON files
// on disk. Each unit is a directory under the endpoint root; each *.json file
// in it is one batch, processed in file name order.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/driver"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

const DriverID = "jsonfile"

// ConfigLookup returns the source configuration of an endpoint.
type ConfigLookup func(endpointID string) (map[string]any, error)

type Driver struct {
	lookup ConfigLookup
	logger ectologger.Logger
}

func New(lookup ConfigLookup, logger ectologger.Logger) *Driver {
	return &Driver{lookup: lookup, logger: logger}
}

func NewFactory(lookup ConfigLookup, logger ectologger.Logger) driver.Factory {
	return func() driver.Driver {
		return New(lookup, logger)
	}
}

func root(cfg map[string]any) (string, error) {
	r, _ := cfg["root"].(string)
	if strings.TrimSpace(r) == "" {
		return "", fernerrors.NewConfigurationError(DriverID, "endpoint config is missing root").WithField("root")
	}
	return r, nil
}

// ListUnits returns one FULL/INCREMENTAL unit per directory under root.
func (d *Driver) ListUnits(ctx context.Context, endpointID string) ([]models.UnitDescriptor, error) {
	cfg, err := d.lookup(endpointID)
	if err != nil {
		return nil, err
	}
	dir, err := root(cfg)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list units in %s: %w", dir, err)
	}

	units := []models.UnitDescriptor{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		units = append(units, models.UnitDescriptor{
			UnitID:         e.Name(),
			DatasetID:      e.Name(),
			Kind:           "file",
			DisplayName:    e.Name(),
			DefaultMode:    models.RunModeIncremental,
			SupportedModes: []models.RunMode{models.RunModeFull, models.RunModeIncremental},
		})
	}
	return units, nil
}

// SyncUnit reads every batch file newer than the cursor. FULL runs and runs
// without a checkpoint read every file.
func (d *Driver) SyncUnit(ctx context.Context, req driver.SyncRequest) (driver.SyncResult, error) {
	cfg := req.Config
	if cfg == nil {
		var err error
		if cfg, err = d.lookup(req.EndpointID); err != nil {
			return driver.SyncResult{}, err
		}
	}
	base, err := root(cfg)
	if err != nil {
		return driver.SyncResult{}, err
	}
	dir := filepath.Join(base, req.Unit.UnitID)

	after := ""
	if req.Mode != models.RunModeFull && req.Checkpoint != nil {
		after, _ = req.Checkpoint.Cursor.(string)
	}

	files, err := batchFiles(dir)
	if err != nil {
		return driver.SyncResult{}, err
	}

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"endpoint_id": req.EndpointID,
		"unit_id":     req.Unit.UnitID,
		"cursor":      after,
	})

	result := driver.SyncResult{}
	cursor := after
	records := 0
	for _, name := range files {
		if after != "" && name <= after {
			continue
		}
		if err := ctx.Err(); err != nil {
			return driver.SyncResult{}, err
		}

		// The cursor must not move past an unreadable file, so reading stops
		// there and the next run starts again from it.
		batch, err := readBatch(filepath.Join(dir, name))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("batch file %s: %w", name, err))
			log.WithError(err).Warnf("stopping at unreadable batch file %s", name)
			break
		}
		for i := range batch.Records {
			prov := &batch.Records[i].Provenance
			if prov.EndpointID == "" {
				prov.EndpointID = req.EndpointID
			}
			if prov.SourceEventID == "" {
				prov.SourceEventID = fmt.Sprintf("%s#%d", name, i)
			}
			result.SourceEventIDs = append(result.SourceEventIDs, prov.SourceEventID)
		}
		records += batch.Len()
		result.Batches = append(result.Batches, batch)
		cursor = name
	}

	now := time.Now().UTC()
	result.NewCheckpoint = models.Checkpoint{
		Cursor:        cursor,
		LastUpdatedAt: &now,
	}
	result.Stats = map[string]any{
		"files":   len(result.Batches),
		"records": records,
	}
	log.Debugf("read %d batch files with %d records", len(result.Batches), records)
	return result, nil
}

func batchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// readBatch accepts either {"records": [...]} or a bare array of records.
func readBatch(path string) (models.NormalizedBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.NormalizedBatch{}, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var records []models.NormalizedRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return models.NormalizedBatch{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		return models.NormalizedBatch{Records: records}, nil
	}

	var batch models.NormalizedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return models.NormalizedBatch{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return batch, nil
}
