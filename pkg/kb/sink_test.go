package kb

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sink"
)

// fakeGraph mimics MERGE semantics: upserts replace, ensures create only.
type fakeGraph struct {
	nodes     map[string]models.GraphEntity
	stubs     map[string]bool
	edges     []models.GraphEdge
	ensures   int
	closed    bool
	failEdges error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: map[string]models.GraphEntity{}, stubs: map[string]bool{}}
}

func (f *fakeGraph) UpsertEntity(_ context.Context, e models.GraphEntity) (string, error) {
	f.nodes[e.Identity.LogicalKey] = e
	delete(f.stubs, e.Identity.LogicalKey)
	return e.ID, nil
}

func (f *fakeGraph) EnsureEntity(_ context.Context, e models.GraphEntity) (string, error) {
	f.ensures++
	if existing, ok := f.nodes[e.Identity.LogicalKey]; ok {
		return existing.ID, nil
	}
	f.nodes[e.Identity.LogicalKey] = e
	f.stubs[e.Identity.LogicalKey] = true
	return e.ID, nil
}

func (f *fakeGraph) UpsertEdge(_ context.Context, e models.GraphEdge) error {
	if f.failEdges != nil {
		return f.failEdges
	}
	f.edges = append(f.edges, e)
	return nil
}

func (f *fakeGraph) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeGraph) edgesOfType(edgeType string) []models.GraphEdge {
	var out []models.GraphEdge
	for _, e := range f.edges {
		if e.EdgeType == edgeType {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func begin(t *testing.T, g *fakeGraph) (*Sink, sink.Context) {
	t.Helper()
	s := NewSink(func(context.Context) (graph.Writer, error) { return g, nil }, testLogger())
	sc := sink.Context{EndpointID: "drive-prod", UnitID: "files", SinkID: SinkID, RunID: "run-1"}
	require.NoError(t, s.Begin(context.Background(), sc))
	return s, sc
}

var scope = models.Scope{OrgID: "acme", ProjectID: "web"}

func record(entityType, logicalID string, payload map[string]any) models.NormalizedRecord {
	return models.NormalizedRecord{
		EntityType: entityType,
		LogicalID:  logicalID,
		Scope:      scope,
		Provenance: models.Provenance{EndpointID: "drive-prod", Vendor: "gdrive"},
		Payload:    payload,
	}
}

func TestKB_SpaceStubAndContainment(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	item := record("doc.item", "file-1", map[string]any{
		"title":          "Roadmap",
		"parent_item_id": nil,
		"space_id":       "drive-1",
	})

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{item}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Upserts)
	assert.Equal(t, 1, stats.Edges)

	space, ok := g.nodes["drive-1"]
	require.True(t, ok)
	assert.Equal(t, "doc.space", space.EntityType)
	assert.True(t, g.stubs["drive-1"])
	assert.Equal(t, scope, space.Scope)

	contains := g.edgesOfType(EdgeContains)
	require.Len(t, contains, 1)
	assert.Equal(t, space.ID, contains[0].SourceEntityID)
	assert.Equal(t, g.nodes["file-1"].ID, contains[0].TargetEntityID)
	assert.Equal(t, "drive-1", contains[0].Identity.SourceLogicalKey)
}

func TestKB_ParentItemStubUsesSameType(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	child := record("doc.item", "file-2", map[string]any{"parent_item_id": "folder-9", "space_id": "drive-1"})
	_, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{child}}, sc)
	require.NoError(t, err)

	parent, ok := g.nodes["folder-9"]
	require.True(t, ok)
	assert.Equal(t, "doc.item", parent.EntityType)
	_, spaceCreated := g.nodes["drive-1"]
	assert.False(t, spaceCreated)
	assert.Len(t, g.edgesOfType(EdgeContains), 1)
}

func TestKB_ParentInBatchIsNotStubbed(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	// child first: pass 1 completes before containment runs
	child := record("doc.item", "file-2", map[string]any{"parent_item_id": "folder-9"})
	parent := record("doc.item", "folder-9", map[string]any{"title": "Folder"})
	_, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{child, parent}}, sc)
	require.NoError(t, err)

	assert.Equal(t, 0, g.ensures)
	assert.False(t, g.stubs["folder-9"])
	require.Len(t, g.edgesOfType(EdgeContains), 1)
}

func TestKB_StubNeverClobbersFullNode(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)
	ctx := context.Background()

	space := record("doc.space", "drive-1", map[string]any{"name": "Engineering"})
	_, err := s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{space}}, sc)
	require.NoError(t, err)

	item := record("doc.item", "file-1", map[string]any{"space_id": "drive-1"})
	_, err = s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{item}}, sc)
	require.NoError(t, err)

	assert.Equal(t, "Engineering", g.nodes["drive-1"].DisplayName)
	assert.False(t, g.stubs["drive-1"])
}

func TestKB_SameBatchRelationIsOrderIndependent(t *testing.T) {
	first := record("work.item", "PROJ-1", map[string]any{
		"summary":   "Parent",
		"relations": []any{map[string]any{"target": "PROJ-2", "type": "blocks"}},
	})
	second := record("work.item", "PROJ-2", map[string]any{"summary": "Child"})

	for name, order := range map[string][]models.NormalizedRecord{
		"referrer first": {first, second},
		"referrer last":  {second, first},
	} {
		t.Run(name, func(t *testing.T) {
			g := newFakeGraph()
			s, sc := begin(t, g)

			stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: order}, sc)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Edges)
			assert.Equal(t, 0, stats.Skipped)

			require.Len(t, g.edges, 1)
			assert.Equal(t, "blocks", g.edges[0].EdgeType)
			assert.Equal(t, g.nodes["PROJ-1"].ID, g.edges[0].SourceEntityID)
			assert.Equal(t, g.nodes["PROJ-2"].ID, g.edges[0].TargetEntityID)
		})
	}
}

func TestKB_CrossBatchRelationIsSkipped(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)
	ctx := context.Background()

	_, err := s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{
		record("work.item", "PROJ-2", map[string]any{}),
	}}, sc)
	require.NoError(t, err)

	stats, err := s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{
		record("work.item", "PROJ-1", map[string]any{"links": []any{"PROJ-2"}}),
	}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Edges)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, g.edges)
}

func TestKB_DeclaredEdges(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	a := record("work.item", "PROJ-1", map[string]any{})
	a.Edges = []models.RecordEdge{
		{Type: "duplicates", TargetLogicalID: "PROJ-2"},
		{Type: "duplicates", TargetLogicalID: "PROJ-404"},
		{Type: "assigned_to", SourceLogicalID: "PROJ-2", TargetLogicalID: "PROJ-1", Properties: map[string]any{"since": "2024"}},
	}
	b := record("work.item", "PROJ-2", map[string]any{})

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{a, b}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 1, stats.Skipped)

	require.Len(t, g.edges, 2)
	assert.Equal(t, g.nodes["PROJ-1"].ID, g.edges[0].SourceEntityID)
	assert.Equal(t, g.nodes["PROJ-2"].ID, g.edges[1].SourceEntityID)
	assert.Equal(t, "2024", g.edges[1].Metadata["since"])
}

func TestKB_LinkRecords(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	link := record("doc.link", "", map[string]any{"from_id": "doc-a", "to_id": "doc-b", "link_type": "references"})
	defaultType := record("doc.link", "", map[string]any{"source_item_id": "doc-a", "target_item_id": "doc-c"})
	missing := record("doc.link", "", map[string]any{"source_id": "doc-a"})

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{link, defaultType, missing}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Upserts)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 1, stats.Skipped)

	for _, key := range []string{"doc-a", "doc-b", "doc-c"} {
		n, ok := g.nodes[key]
		require.True(t, ok, key)
		assert.Equal(t, "doc.item", n.EntityType)
	}
	require.Len(t, g.edges, 2)
	assert.Equal(t, "references", g.edges[0].EdgeType)
	assert.Equal(t, EdgeLinksTo, g.edges[1].EdgeType)
	// doc-a was stubbed once and reused
	assert.Equal(t, 3, g.ensures)
}

func TestKB_Attachments(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	item := record("work.item", "PROJ-1", map[string]any{
		"attachments": []any{
			map[string]any{"id": "att-9", "name": "log.txt"},
			map[string]any{"name": "screenshot.png"},
			map[string]any{"size": 10.0},
		},
	})
	byMap := record("work.item", "PROJ-2", map[string]any{
		"attachments": map[string]any{"b": map[string]any{"name": "b.pdf"}, "a": "ignored"},
	})

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{item, byMap}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Upserts)
	assert.Equal(t, 5, stats.Edges)

	for _, key := range []string{
		"PROJ-1::attachment::att-9",
		"PROJ-1::attachment::screenshot.png",
		"PROJ-1::attachment::2",
		"PROJ-2::attachment::a",
		"PROJ-2::attachment::b",
	} {
		n, ok := g.nodes[key]
		require.True(t, ok, key)
		assert.Equal(t, AttachmentType, n.EntityType)
	}
	assert.Len(t, g.edgesOfType(EdgeContainsAttachment), 5)
}

func TestKB_LogicalKeyStability(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)
	ctx := context.Background()

	noID := func() models.NormalizedRecord {
		return record("doc.item", "", map[string]any{"title": "Untitled", "size": 3.0})
	}

	_, err := s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{record("doc.item", "file-1", map[string]any{"v": 1.0}), noID()}}, sc)
	require.NoError(t, err)
	firstID := g.nodes["file-1"].ID
	require.Len(t, g.nodes, 2)

	_, err = s.WriteBatch(ctx, models.NormalizedBatch{Records: []models.NormalizedRecord{record("doc.item", "file-1", map[string]any{"v": 2.0}), noID()}}, sc)
	require.NoError(t, err)
	assert.Len(t, g.nodes, 2)
	assert.Equal(t, firstID, g.nodes["file-1"].ID)
	assert.Equal(t, 2.0, g.nodes["file-1"].Properties["v"])

	key := LogicalKey(noID())
	assert.Contains(t, g.nodes, key)
	assert.Equal(t, key, LogicalKey(noID()))
}

func TestKB_TenantOverride(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)
	sc.TenantID = "tenant-x"

	_, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{
		record("doc.item", "file-1", map[string]any{"space_id": "drive-1"}),
	}}, sc)
	require.NoError(t, err)
	assert.Equal(t, "tenant-x", g.nodes["file-1"].TenantID)
	assert.Equal(t, "tenant-x", g.nodes["drive-1"].TenantID)
	assert.Equal(t, "tenant-x", g.edges[0].TenantID)
}

func TestKB_SameKeyInTwoTenantsResolvesPerTenant(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	inTenant := func(org, id string, payload map[string]any) models.NormalizedRecord {
		rec := record("work.item", id, payload)
		rec.Scope = models.Scope{OrgID: org}
		return rec
	}
	batch := models.NormalizedBatch{Records: []models.NormalizedRecord{
		inTenant("org-a", "PROJ-1", map[string]any{"summary": "A"}),
		inTenant("org-b", "PROJ-2", map[string]any{
			"relations": []any{map[string]any{"target": "PROJ-1", "type": "blocks"}},
		}),
		inTenant("org-b", "PROJ-1", map[string]any{"summary": "B"}),
	}}

	stats, err := s.WriteBatch(context.Background(), batch, sc)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Upserts)
	assert.Equal(t, 0, stats.Skipped)

	blocks := g.edgesOfType("blocks")
	require.Len(t, blocks, 1)
	assert.Equal(t, graph.NodeID("org-b", "PROJ-2"), blocks[0].SourceEntityID)
	assert.Equal(t, graph.NodeID("org-b", "PROJ-1"), blocks[0].TargetEntityID)
	assert.NotEqual(t, graph.NodeID("org-a", "PROJ-1"), blocks[0].TargetEntityID)
}

func TestKB_RelationToOtherTenantIsSkipped(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	target := record("work.item", "PROJ-1", map[string]any{})
	target.Scope = models.Scope{OrgID: "org-a"}
	source := record("work.item", "PROJ-2", map[string]any{
		"relations": []any{map[string]any{"target": "PROJ-1", "type": "blocks"}},
	})
	source.Scope = models.Scope{OrgID: "org-b"}

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{target, source}}, sc)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, g.edgesOfType("blocks"))
}

func TestKB_NonObjectPayloadRejectedBeforeWrites(t *testing.T) {
	g := newFakeGraph()
	s, sc := begin(t, g)

	bad := record("doc.item", "x", nil)
	bad.Payload = "scalar"
	_, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{
		record("doc.item", "ok", map[string]any{}), bad,
	}}, sc)
	assert.ErrorIs(t, err, fernerrors.ErrPayloadShape)
	assert.Empty(t, g.nodes)
}

func TestKB_FailureStopsRemainingPasses(t *testing.T) {
	g := newFakeGraph()
	g.failEdges = assert.AnError
	s, sc := begin(t, g)

	stats, err := s.WriteBatch(context.Background(), models.NormalizedBatch{Records: []models.NormalizedRecord{
		record("doc.item", "file-1", map[string]any{"space_id": "drive-1", "attachments": []any{"a.txt"}}),
	}}, sc)
	assert.ErrorIs(t, err, fernerrors.ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, stats.Upserts)
	_, attached := g.nodes["file-1::attachment::a.txt"]
	assert.False(t, attached)

	require.NoError(t, s.Abort(context.Background(), sc))
	assert.True(t, g.closed)
}
