package checkpoint

import (
	"strings"
	"unicode"
)

const (
	PrefixCheckpoint = "ingest"
	PrefixState      = "ingest-state"
	PrefixTransient  = "ingest-transient"
)

// Key identifies a checkpoint. Vendor and SinkID are optional segments.
type Key struct {
	Prefix     string
	Vendor     string
	EndpointID string
	UnitID     string
	SinkID     string
}

func NewKey(vendor, endpointID, unitID, sinkID string) Key {
	return Key{
		Prefix:     PrefixCheckpoint,
		Vendor:     vendor,
		EndpointID: endpointID,
		UnitID:     unitID,
		SinkID:     sinkID,
	}
}

// StateKey is the key of the unit lifecycle record. It is sink independent.
func (k Key) StateKey() Key {
	return Key{Prefix: PrefixState, Vendor: k.Vendor, EndpointID: k.EndpointID, UnitID: k.UnitID}
}

// TransientKey is the key of the per-unit scratch state.
func (k Key) TransientKey() Key {
	out := k
	out.Prefix = PrefixTransient
	return out
}

// String renders ingest[::<vendor>]::endpoint::<endpointId>::unit::<unitId>[::sink::<sinkId>].
func (k Key) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = PrefixCheckpoint
	}

	parts := []string{prefix}
	if v := NormalizeSegment(k.Vendor); v != "" {
		parts = append(parts, v)
	}
	parts = append(parts,
		"endpoint", NormalizeSegment(k.EndpointID),
		"unit", NormalizeSegment(k.UnitID),
	)
	if s := NormalizeSegment(k.SinkID); s != "" {
		parts = append(parts, "sink", s)
	}
	return strings.Join(parts, "::")
}

// NormalizeSegment lower-cases s and replaces every colon and whitespace
// character with a dash.
func NormalizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ':' || unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, s)
}
