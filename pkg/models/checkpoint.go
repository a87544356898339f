package models

import "time"

// Checkpoint is stored and replaced whole. Only the owning driver interprets
// Cursor.
type Checkpoint struct {
	Cursor        any            `json:"cursor"`
	LastUpdatedAt *time.Time     `json:"lastUpdatedAt,omitempty"`
	LastRunID     string         `json:"lastRunId,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	Stats         map[string]any `json:"stats,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SinkStats is what a sink reports for one batch or one run.
type SinkStats struct {
	Upserts int `json:"upserts"`
	Edges   int `json:"edges"`
	Skipped int `json:"skipped"`
}

func (s SinkStats) Add(other SinkStats) SinkStats {
	return SinkStats{
		Upserts: s.Upserts + other.Upserts,
		Edges:   s.Edges + other.Edges,
		Skipped: s.Skipped + other.Skipped,
	}
}

func (s SinkStats) Map() map[string]any {
	return map[string]any{
		"upserts": s.Upserts,
		"edges":   s.Edges,
		"skipped": s.Skipped,
	}
}
