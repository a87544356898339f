package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
)

// RunMode selects whether a sync resumes from the stored cursor.
type RunMode string

const (
	RunModeFull        RunMode = "FULL"
	RunModeIncremental RunMode = "INCREMENTAL"
)

// ParseRunMode accepts either case. An empty string yields "".
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case RunModeFull:
		return RunModeFull, nil
	case RunModeIncremental:
		return RunModeIncremental, nil
	default:
		return "", fmt.Errorf("unknown run mode %q", s)
	}
}

// UnitDescriptor describes one independently schedulable slice of ingestion.
type UnitDescriptor struct {
	UnitID              string         `json:"unitId" yaml:"unitId" validate:"required"`
	DatasetID           string         `json:"datasetId" yaml:"datasetId"`
	Kind                string         `json:"kind" yaml:"kind"`
	DisplayName         string         `json:"displayName" yaml:"displayName"`
	DefaultMode         RunMode        `json:"defaultMode" yaml:"defaultMode"`
	SupportedModes      []RunMode      `json:"supportedModes" yaml:"supportedModes"`
	DefaultSinkID       string         `json:"defaultSinkId,omitempty" yaml:"defaultSinkId,omitempty"`
	DefaultScheduleKind string         `json:"defaultScheduleKind,omitempty" yaml:"defaultScheduleKind,omitempty"`
	Stats               map[string]any `json:"stats,omitempty" yaml:"stats,omitempty"`
	CdmModelID          string         `json:"cdmModelId,omitempty" yaml:"cdmModelId,omitempty"`
}

// Supports reports whether mode is one of the unit's supported modes. A unit
// that lists none supports only FULL.
func (u UnitDescriptor) Supports(mode RunMode) bool {
	if len(u.SupportedModes) == 0 {
		return mode == RunModeFull
	}
	return ectolinq.Contains(u.SupportedModes, mode)
}

// ResolveMode picks the requested mode, else the unit default, else FULL.
func (u UnitDescriptor) ResolveMode(requested RunMode) RunMode {
	if requested != "" {
		return requested
	}
	if u.DefaultMode != "" {
		return u.DefaultMode
	}
	return RunModeFull
}

// UnitState is the lifecycle state of a unit.
type UnitState string

const (
	UnitStateIdle      UnitState = "IDLE"
	UnitStateRunning   UnitState = "RUNNING"
	UnitStatePaused    UnitState = "PAUSED"
	UnitStateFailed    UnitState = "FAILED"
	UnitStateSucceeded UnitState = "SUCCEEDED"
)

var unitTransitions = map[UnitState][]UnitState{
	UnitStateIdle:      {UnitStateRunning},
	UnitStateFailed:    {UnitStateRunning, UnitStateIdle},
	UnitStateSucceeded: {UnitStateRunning, UnitStateIdle},
	UnitStateRunning:   {UnitStateSucceeded, UnitStateFailed, UnitStatePaused},
	UnitStatePaused:    {UnitStateIdle},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to UnitState) bool {
	return ectolinq.Contains(unitTransitions[from], to)
}

// UnitStatus is the persisted lifecycle record of a unit.
type UnitStatus struct {
	State     UnitState      `json:"state"`
	LastRunID string         `json:"lastRunId,omitempty"`
	LastRunAt *time.Time     `json:"lastRunAt,omitempty"`
	LastError string         `json:"lastError,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

// NewUnitStatus returns the status of a unit that has never run.
func NewUnitStatus() UnitStatus {
	return UnitStatus{State: UnitStateIdle}
}
