package models

import "strings"

// Scope is the tenancy partition a record belongs to. OrgID is required.
type Scope struct {
	OrgID     string `json:"orgId" yaml:"orgId" validate:"required"`
	ProjectID string `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	DomainID  string `json:"domainId,omitempty" yaml:"domainId,omitempty"`
	TeamID    string `json:"teamId,omitempty" yaml:"teamId,omitempty"`
}

// Map returns the non-empty scope segments keyed by their wire names.
func (s Scope) Map() map[string]any {
	m := map[string]any{"orgId": s.OrgID}
	if s.ProjectID != "" {
		m["projectId"] = s.ProjectID
	}
	if s.DomainID != "" {
		m["domainId"] = s.DomainID
	}
	if s.TeamID != "" {
		m["teamId"] = s.TeamID
	}
	return m
}

type Provenance struct {
	EndpointID    string `json:"endpointId"`
	Vendor        string `json:"vendor"`
	SourceEventID string `json:"sourceEventId,omitempty"`
	Phase         string `json:"phase,omitempty"`
}

func (p Provenance) Map() map[string]any {
	m := map[string]any{
		"endpointId": p.EndpointID,
		"vendor":     p.Vendor,
	}
	if p.SourceEventID != "" {
		m["sourceEventId"] = p.SourceEventID
	}
	if p.Phase != "" {
		m["phase"] = p.Phase
	}
	return m
}

// RecordEdge is an edge the producing driver declared explicitly.
type RecordEdge struct {
	Type            string         `json:"type"`
	SourceLogicalID string         `json:"sourceLogicalId,omitempty"`
	TargetLogicalID string         `json:"targetLogicalId"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// NormalizedRecord is the unit of exchange between drivers and sinks.
type NormalizedRecord struct {
	EntityType  string       `json:"entityType"`
	LogicalID   string       `json:"logicalId,omitempty"`
	DisplayName string       `json:"displayName,omitempty"`
	Scope       Scope        `json:"scope"`
	Provenance  Provenance   `json:"provenance"`
	Payload     any          `json:"payload"`
	Edges       []RecordEdge `json:"edges,omitempty"`
}

// PayloadMap returns the payload as an object. ok is false for scalars,
// arrays and nil.
func (r NormalizedRecord) PayloadMap() (map[string]any, bool) {
	m, ok := r.Payload.(map[string]any)
	return m, ok
}

// HasLogicalID reports whether the record carries a non-blank logical id.
func (r NormalizedRecord) HasLogicalID() bool {
	return strings.TrimSpace(r.LogicalID) != ""
}

// NormalizedBatch is processed in record order within one sink invocation.
type NormalizedBatch struct {
	Records []NormalizedRecord `json:"records"`
}

func (b NormalizedBatch) Len() int {
	return len(b.Records)
}
