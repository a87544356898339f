package models

// EntityIdentity carries the de-duplication key of a graph node and where it
// came from.
type EntityIdentity struct {
	LogicalKey       string         `json:"logicalKey"`
	OriginEndpointID string         `json:"originEndpointId"`
	OriginVendor     string         `json:"originVendor"`
	ExternalID       string         `json:"externalId,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	Provenance       map[string]any `json:"provenance,omitempty"`
}

// GraphEntity is one node snapshot. Re-upserting the same LogicalKey replaces
// the previous snapshot.
type GraphEntity struct {
	ID            string         `json:"id"`
	EntityType    string         `json:"entityType"`
	DisplayName   string         `json:"displayName"`
	CanonicalPath string         `json:"canonicalPath,omitempty"`
	SourceSystem  string         `json:"sourceSystem"`
	Properties    map[string]any `json:"properties"`
	Scope         Scope          `json:"scope"`
	TenantID      string         `json:"tenantId"`
	Identity      EntityIdentity `json:"identity"`
}

type EdgeIdentity struct {
	SourceLogicalKey string `json:"sourceLogicalKey,omitempty"`
	TargetLogicalKey string `json:"targetLogicalKey,omitempty"`
}

// GraphEdge is written only after both endpoints exist.
type GraphEdge struct {
	EdgeType       string         `json:"edgeType"`
	SourceEntityID string         `json:"sourceEntityId"`
	TargetEntityID string         `json:"targetEntityId"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Scope          Scope          `json:"scope"`
	TenantID       string         `json:"tenantId"`
	Identity       EdgeIdentity   `json:"identity"`
}
