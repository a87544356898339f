package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to UnitState
		want     bool
	}{
		{UnitStateIdle, UnitStateRunning, true},
		{UnitStateFailed, UnitStateRunning, true},
		{UnitStateSucceeded, UnitStateRunning, true},
		{UnitStateRunning, UnitStateSucceeded, true},
		{UnitStateRunning, UnitStateFailed, true},
		{UnitStateRunning, UnitStatePaused, true},
		{UnitStatePaused, UnitStateIdle, true},
		{UnitStatePaused, UnitStateRunning, false},
		{UnitStateRunning, UnitStateRunning, false},
		{UnitStateIdle, UnitStatePaused, false},
		{UnitStateIdle, UnitStateSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestUnitDescriptor_Supports(t *testing.T) {
	t.Run("explicit modes", func(t *testing.T) {
		u := UnitDescriptor{SupportedModes: []RunMode{RunModeFull, RunModeIncremental}}
		assert.True(t, u.Supports(RunModeIncremental))
		assert.True(t, u.Supports(RunModeFull))
	})

	t.Run("full only", func(t *testing.T) {
		u := UnitDescriptor{SupportedModes: []RunMode{RunModeFull}}
		assert.False(t, u.Supports(RunModeIncremental))
	})

	t.Run("no modes listed means full", func(t *testing.T) {
		u := UnitDescriptor{}
		assert.True(t, u.Supports(RunModeFull))
		assert.False(t, u.Supports(RunModeIncremental))
	})
}

func TestUnitDescriptor_ResolveMode(t *testing.T) {
	u := UnitDescriptor{DefaultMode: RunModeIncremental}
	assert.Equal(t, RunModeFull, u.ResolveMode(RunModeFull))
	assert.Equal(t, RunModeIncremental, u.ResolveMode(""))
	assert.Equal(t, RunModeFull, UnitDescriptor{}.ResolveMode(""))
}

func TestParseRunMode(t *testing.T) {
	mode, err := ParseRunMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, RunModeIncremental, mode)

	mode, err = ParseRunMode("")
	require.NoError(t, err)
	assert.Equal(t, RunMode(""), mode)

	_, err = ParseRunMode("delta")
	assert.Error(t, err)
}

func TestNormalizedRecord_PayloadMap(t *testing.T) {
	_, ok := NormalizedRecord{Payload: []any{1}}.PayloadMap()
	assert.False(t, ok)

	_, ok = NormalizedRecord{Payload: "x"}.PayloadMap()
	assert.False(t, ok)

	m, ok := NormalizedRecord{Payload: map[string]any{"a": 1}}.PayloadMap()
	assert.True(t, ok)
	assert.Equal(t, 1, m["a"])

	assert.False(t, NormalizedRecord{LogicalID: "  "}.HasLogicalID())
}
