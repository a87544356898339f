package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

// EntityLabel is carried by every node so lookups by logical key do not depend
// on the entity type.
const EntityLabel = "Entity"

func upsertEntityCypher(entityType string) string {
	return fmt.Sprintf(`
		MERGE (e:%s {tenant_id: $tenant_id, logical_key: $logical_key})
		SET e = $props
		SET e:%s
		RETURN e.id AS id
	`, EntityLabel, Label(entityType))
}

func ensureEntityCypher(entityType string) string {
	return fmt.Sprintf(`
		MERGE (e:%s {tenant_id: $tenant_id, logical_key: $logical_key})
		ON CREATE SET e = $props, e:%s
		RETURN e.id AS id
	`, EntityLabel, Label(entityType))
}

func upsertEdgeCypher(edgeType string) string {
	return fmt.Sprintf(`
		MATCH (s:%s {tenant_id: $tenant_id, id: $source_id})
		MATCH (t:%s {tenant_id: $tenant_id, id: $target_id})
		MERGE (s)-[r:%s {id: $id}]->(t)
		SET r += $props
	`, EntityLabel, EntityLabel, RelationshipType(edgeType))
}

// Label turns an entity type such as "doc.item" into a node label "DocItem".
func Label(entityType string) string {
	var b strings.Builder
	upper := true
	for _, c := range entityType {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			if upper && c >= 'a' && c <= 'z' {
				c -= 'a' - 'A'
			}
			b.WriteRune(c)
			upper = false
		default:
			upper = true
		}
	}
	label := b.String()
	if label == "" || (label[0] >= '0' && label[0] <= '9') {
		return EntityLabel + label
	}
	return label
}

// RelationshipType turns an edge type such as "links_to" into "LINKS_TO".
func RelationshipType(edgeType string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(edgeType) {
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_':
			b.WriteRune(c)
		case c == '-' || c == '.' || c == ' ' || c == ':':
			b.WriteRune('_')
		}
	}
	rel := b.String()
	if rel == "" || (rel[0] >= '0' && rel[0] <= '9') {
		return "RELATED_TO" + rel
	}
	return rel
}

// NodeID derives the node id from the tenant and logical key, so a stub and
// the full node it is later replaced by share one id.
func NodeID(tenantID, logicalKey string) string {
	return fingerprint.Hash([]any{tenantID, logicalKey})[:32]
}

func EdgeID(edge models.GraphEdge) string {
	return fingerprint.EdgeID(edge.TenantID, edge.EdgeType, edge.SourceEntityID, edge.TargetEntityID)
}

// EntityProperties flattens an entity into Bolt-storable node properties.
// Payload properties come first so system fields always win.
func EntityProperties(e models.GraphEntity, stub bool) map[string]any {
	props := make(map[string]any, len(e.Properties)+16)
	for k, v := range e.Properties {
		if pv, ok := PropertyValue(v); ok {
			props[k] = pv
		}
	}

	props["id"] = e.ID
	props["tenant_id"] = e.TenantID
	props["logical_key"] = e.Identity.LogicalKey
	props["entity_type"] = e.EntityType
	props["display_name"] = e.DisplayName
	props["source_system"] = e.SourceSystem
	props["origin_endpoint_id"] = e.Identity.OriginEndpointID
	props["origin_vendor"] = e.Identity.OriginVendor
	props["stub"] = stub
	props["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	setIfNotEmpty(props, "canonical_path", e.CanonicalPath)
	setIfNotEmpty(props, "external_id", e.Identity.ExternalID)
	setIfNotEmpty(props, "phase", e.Identity.Phase)
	if len(e.Identity.Provenance) > 0 {
		props["provenance"], _ = PropertyValue(e.Identity.Provenance)
	}
	addScope(props, e.Scope)
	return props
}

func EdgeProperties(e models.GraphEdge) map[string]any {
	props := make(map[string]any, len(e.Metadata)+8)
	for k, v := range e.Metadata {
		if pv, ok := PropertyValue(v); ok {
			props[k] = pv
		}
	}
	props["tenant_id"] = e.TenantID
	props["edge_type"] = e.EdgeType
	setIfNotEmpty(props, "source_logical_key", e.Identity.SourceLogicalKey)
	setIfNotEmpty(props, "target_logical_key", e.Identity.TargetLogicalKey)
	props["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	addScope(props, e.Scope)
	return props
}

func addScope(props map[string]any, scope models.Scope) {
	setIfNotEmpty(props, "org_id", scope.OrgID)
	setIfNotEmpty(props, "project_id", scope.ProjectID)
	setIfNotEmpty(props, "domain_id", scope.DomainID)
	setIfNotEmpty(props, "team_id", scope.TeamID)
}

func setIfNotEmpty(props map[string]any, key, value string) {
	if value != "" {
		props[key] = value
	}
}

// PropertyValue converts v into something Bolt can store on a node or edge.
// Scalars pass through, homogeneous string lists become []string, and every
// other composite is stored as a JSON string. ok is false for nil.
func PropertyValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string, bool, int, int64, int32, float64, float32:
		return val, true
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true
	case []string:
		return val, true
	case []any:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return jsonString(val), true
			}
			strs = append(strs, s)
		}
		return strs, true
	default:
		return jsonString(val), true
	}
}

func jsonString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
