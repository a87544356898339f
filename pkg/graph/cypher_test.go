package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"doc.item":           "DocItem",
		"work.item":          "WorkItem",
		"doc.space":          "DocSpace",
		"attachment":         "Attachment",
		"x) DETACH DELETE n": "XDETACHDELETEN",
		"":                   "Entity",
		"3d.model":           "Entity3dModel",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Label(in))
		})
	}
}

func TestRelationshipType(t *testing.T) {
	assert.Equal(t, "CONTAINS", RelationshipType("contains"))
	assert.Equal(t, "LINKS_TO", RelationshipType("links_to"))
	assert.Equal(t, "CONTAINS_ATTACHMENT", RelationshipType("contains-attachment"))
	assert.Equal(t, "BLOCKS__DELETE", RelationshipType("blocks]->() DELETE"))
	assert.Equal(t, "RELATED_TO", RelationshipType("!!"))
}

func TestNodeID_StableAcrossCalls(t *testing.T) {
	a := NodeID("acme", "PROJ-1")
	assert.Len(t, a, 32)
	assert.Equal(t, a, NodeID("acme", "PROJ-1"))
	assert.NotEqual(t, a, NodeID("other", "PROJ-1"))
}

func TestPropertyValue(t *testing.T) {
	v, ok := PropertyValue(nil)
	assert.False(t, ok)
	assert.Nil(t, v)

	v, ok = PropertyValue("x")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	v, _ = PropertyValue([]any{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, v)

	v, _ = PropertyValue([]any{"a", 1.0})
	assert.Equal(t, `["a",1]`, v)

	v, _ = PropertyValue(map[string]any{"k": "v"})
	assert.Equal(t, `{"k":"v"}`, v)
}

func TestEntityProperties_SystemFieldsWin(t *testing.T) {
	e := models.GraphEntity{
		ID:           "node-1",
		EntityType:   "doc.item",
		DisplayName:  "Roadmap",
		SourceSystem: "gdrive",
		Properties: map[string]any{
			"id":     "payload-id",
			"title":  "Roadmap",
			"nested": map[string]any{"a": 1.0},
			"empty":  nil,
		},
		Scope:    models.Scope{OrgID: "acme", ProjectID: "web"},
		TenantID: "acme",
		Identity: models.EntityIdentity{LogicalKey: "doc-1", OriginEndpointID: "drive-prod", OriginVendor: "gdrive"},
	}

	props := EntityProperties(e, false)
	assert.Equal(t, "node-1", props["id"])
	assert.Equal(t, "Roadmap", props["title"])
	assert.Equal(t, `{"a":1}`, props["nested"])
	assert.NotContains(t, props, "empty")
	assert.Equal(t, "doc-1", props["logical_key"])
	assert.Equal(t, "acme", props["org_id"])
	assert.Equal(t, "web", props["project_id"])
	assert.NotContains(t, props, "team_id")
	assert.Equal(t, false, props["stub"])
}

func TestCypher_UsesSanitizedNames(t *testing.T) {
	assert.Contains(t, upsertEntityCypher("doc.item"), "SET e:DocItem")
	assert.Contains(t, ensureEntityCypher("doc.space"), "ON CREATE SET e = $props, e:DocSpace")
	assert.Contains(t, upsertEdgeCypher("contains"), "MERGE (s)-[r:CONTAINS {id: $id}]->(t)")
}
