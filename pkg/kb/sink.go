// Package kb writes normalized records into the knowledge graph as nodes and
// inferred edges.
package kb

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/sink"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const SinkID = "kb"

const (
	EdgeContains           = "contains"
	EdgeContainsAttachment = "contains_attachment"
	EdgeLinksTo            = "links_to"
	EdgeRelatesTo          = "relates_to"

	AttachmentType = "attachment"
)

// LinkTypes are record types that only describe an edge and never become
// nodes themselves.
var LinkTypes = map[string]bool{
	"doc.link":  true,
	"work.link": true,
}

// Opener opens the graph session used for one run.
type Opener func(ctx context.Context) (graph.Writer, error)

type Sink struct {
	open   Opener
	logger ectologger.Logger
	writer graph.Writer
}

func NewSink(open Opener, logger ectologger.Logger) *Sink {
	return &Sink{open: open, logger: logger}
}

func NewFactory(open Opener, logger ectologger.Logger) sink.Factory {
	return func() sink.Sink {
		return NewSink(open, logger)
	}
}

func (s *Sink) Begin(ctx context.Context, _ sink.Context) error {
	if s.writer != nil {
		return errors.New("kb sink already begun")
	}
	w, err := s.open(ctx)
	if err != nil {
		return fernerrors.NewStorageError("graph", "open session", err)
	}
	s.writer = w
	return nil
}

// Commit and Abort only release the session. Graph writes are applied as
// they are issued.
func (s *Sink) Commit(ctx context.Context, _ sink.Context) error {
	return s.close(ctx)
}

func (s *Sink) Abort(ctx context.Context, _ sink.Context) error {
	return s.close(ctx)
}

func (s *Sink) close(ctx context.Context) error {
	if s.writer == nil {
		return nil
	}
	w := s.writer
	s.writer = nil
	if err := w.Close(ctx); err != nil {
		return fernerrors.NewStorageError("graph", "close session", err)
	}
	return nil
}

type prepared struct {
	rec     models.NormalizedRecord
	payload map[string]any
	key     string
	tenant  string
	link    bool
}

// batchWriter carries the state of one WriteBatch call.
type batchWriter struct {
	writer graph.Writer
	logger ectologger.Logger
	arena  *arena
	stats  models.SinkStats
}

func (s *Sink) WriteBatch(ctx context.Context, batch models.NormalizedBatch, sc sink.Context) (models.SinkStats, error) {
	if s.writer == nil {
		return models.SinkStats{}, errors.New("kb sink used before Begin")
	}
	if batch.Len() == 0 {
		return models.SinkStats{}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "kb.Sink.WriteBatch",
		attribute.String("unit_id", sc.UnitID),
		attribute.Int("records", batch.Len()))
	defer span.End()

	records, err := prepare(batch, sc)
	if err != nil {
		tracing.RecordError(span, err, "invalid kb batch")
		return models.SinkStats{}, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"endpoint_id": sc.EndpointID,
		"unit_id":     sc.UnitID,
		"run_id":      sc.RunID,
	})

	bw := &batchWriter{writer: s.writer, logger: log, arena: newArena()}
	passes := []struct {
		name string
		run  func(context.Context, []prepared) error
	}{
		{"primary", bw.primaryEntities},
		{"containment", bw.containment},
		{"attachments", bw.attachments},
		{"links", bw.linkRecords},
		{"relations", bw.relations},
		{"edges", bw.declaredEdges},
	}
	for _, p := range passes {
		if err := p.run(ctx, records); err != nil {
			tracing.RecordError(span, err, "kb pass failed: "+p.name)
			log.WithError(err).Errorf("kb %s pass failed", p.name)
			return bw.stats, err
		}
	}

	if bw.stats.Skipped > 0 {
		log.Warnf("kb batch skipped %d unresolvable references", bw.stats.Skipped)
	}
	log.Debugf("kb batch wrote %d nodes and %d edges", bw.stats.Upserts, bw.stats.Edges)
	return bw.stats, nil
}

// prepare validates every record and computes logical keys before any write.
func prepare(batch models.NormalizedBatch, sc sink.Context) ([]prepared, error) {
	out := make([]prepared, len(batch.Records))
	for i, rec := range batch.Records {
		payload, ok := rec.PayloadMap()
		if !ok {
			if rec.Payload != nil {
				return nil, fernerrors.NewPayloadShapeError(rec.EntityType, rec.LogicalID, i, rec.Payload)
			}
			payload = map[string]any{}
		}

		tenant := sc.TenantID
		if tenant == "" {
			tenant = rec.Scope.OrgID
		}

		p := prepared{rec: rec, payload: payload, tenant: tenant, link: LinkTypes[rec.EntityType]}
		if !p.link {
			p.key = LogicalKey(rec)
		}
		out[i] = p
	}
	return out, nil
}

// LogicalKey is the record's logical id, or a synthetic key derived from the
// payload and scope when it has none.
func LogicalKey(rec models.NormalizedRecord) string {
	if rec.HasLogicalID() {
		return rec.LogicalID
	}
	return fingerprint.SyntheticKey(rec.EntityType, rec.Scope, rec.Payload)
}

func (b *batchWriter) primaryEntities(ctx context.Context, records []prepared) error {
	for _, p := range records {
		if p.link {
			continue
		}
		entity := entityFor(p)
		id, err := b.writer.UpsertEntity(ctx, entity)
		if err != nil {
			return fernerrors.NewStorageError("graph", "upsert entity", err)
		}
		b.arena.put(p.tenant, p.key, node{ID: id, EntityType: p.rec.EntityType, Scope: p.rec.Scope, TenantID: p.tenant})
		b.stats.Upserts++
	}
	return nil
}

func (b *batchWriter) containment(ctx context.Context, records []prepared) error {
	for _, p := range records {
		if p.link {
			continue
		}
		child, ok := b.arena.get(p.tenant, p.key)
		if !ok {
			continue
		}

		parentKey := stringField(p.payload, "parent_item_id")
		parentType := p.rec.EntityType
		if parentKey == "" {
			parentKey = stringField(p.payload, "space_id")
			parentType = domainOf(p.rec.EntityType) + ".space"
		}
		if parentKey == "" || parentKey == p.key {
			continue
		}

		parentID, err := b.resolveOrStub(ctx, parentKey, parentType, p)
		if err != nil {
			return err
		}
		if err := b.edge(ctx, EdgeContains, parentID, child.ID, parentKey, p.key, nil, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *batchWriter) attachments(ctx context.Context, records []prepared) error {
	for _, p := range records {
		if p.link {
			continue
		}
		owner, ok := b.arena.get(p.tenant, p.key)
		if !ok {
			continue
		}
		for _, a := range attachmentsOf(p.payload) {
			key := p.key + "::attachment::" + a.id
			name := a.name
			if name == "" {
				name = a.id
			}
			entity := models.GraphEntity{
				ID:           graph.NodeID(p.tenant, key),
				EntityType:   AttachmentType,
				DisplayName:  name,
				SourceSystem: p.rec.Provenance.Vendor,
				Properties:   a.props,
				Scope:        p.rec.Scope,
				TenantID:     p.tenant,
				Identity: models.EntityIdentity{
					LogicalKey:       key,
					OriginEndpointID: p.rec.Provenance.EndpointID,
					OriginVendor:     p.rec.Provenance.Vendor,
					ExternalID:       a.id,
					Phase:            p.rec.Provenance.Phase,
				},
			}
			id, err := b.writer.UpsertEntity(ctx, entity)
			if err != nil {
				return fernerrors.NewStorageError("graph", "upsert attachment", err)
			}
			b.stats.Upserts++
			if err := b.edge(ctx, EdgeContainsAttachment, owner.ID, id, p.key, key, nil, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batchWriter) linkRecords(ctx context.Context, records []prepared) error {
	for _, p := range records {
		if !p.link {
			continue
		}
		from := stringField(p.payload, "source_id", "from_id", "source_item_id")
		to := stringField(p.payload, "target_id", "to_id", "target_item_id")
		if from == "" || to == "" {
			b.stats.Skipped++
			continue
		}

		endpointType := domainOf(p.rec.EntityType) + ".item"
		fromID, err := b.resolveOrStub(ctx, from, endpointType, p)
		if err != nil {
			return err
		}
		toID, err := b.resolveOrStub(ctx, to, endpointType, p)
		if err != nil {
			return err
		}

		edgeType := stringField(p.payload, "link_type")
		if edgeType == "" {
			edgeType = EdgeLinksTo
		}
		if err := b.edge(ctx, edgeType, fromID, toID, from, to, p.payload, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *batchWriter) relations(ctx context.Context, records []prepared) error {
	for _, p := range records {
		if p.link {
			continue
		}
		source, ok := b.arena.get(p.tenant, p.key)
		if !ok {
			continue
		}
		for _, r := range relationsOf(p.payload) {
			target, ok := b.arena.get(p.tenant, r.target)
			if r.target == "" || !ok {
				b.stats.Skipped++
				continue
			}
			edgeType := r.edgeType
			if edgeType == "" {
				edgeType = EdgeRelatesTo
			}
			if err := b.edge(ctx, edgeType, source.ID, target.ID, p.key, r.target, r.props, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batchWriter) declaredEdges(ctx context.Context, records []prepared) error {
	for _, p := range records {
		for _, e := range p.rec.Edges {
			sourceKey := e.SourceLogicalID
			if sourceKey == "" {
				sourceKey = p.key
			}
			source, okSource := b.arena.get(p.tenant, sourceKey)
			target, okTarget := b.arena.get(p.tenant, e.TargetLogicalID)
			if sourceKey == "" || !okSource || !okTarget {
				b.stats.Skipped++
				continue
			}
			edgeType := e.Type
			if edgeType == "" {
				edgeType = EdgeRelatesTo
			}
			if err := b.edge(ctx, edgeType, source.ID, target.ID, sourceKey, e.TargetLogicalID, e.Properties, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveOrStub returns the node id for key, creating a stub that inherits
// the referencing record's scope when the batch did not produce it.
func (b *batchWriter) resolveOrStub(ctx context.Context, key, entityType string, ref prepared) (string, error) {
	if n, ok := b.arena.get(ref.tenant, key); ok {
		return n.ID, nil
	}
	if id, ok := b.arena.stub(ref.tenant, key); ok {
		return id, nil
	}

	stub := models.GraphEntity{
		ID:           graph.NodeID(ref.tenant, key),
		EntityType:   entityType,
		DisplayName:  key,
		SourceSystem: ref.rec.Provenance.Vendor,
		Properties:   map[string]any{},
		Scope:        ref.rec.Scope,
		TenantID:     ref.tenant,
		Identity: models.EntityIdentity{
			LogicalKey:       key,
			OriginEndpointID: ref.rec.Provenance.EndpointID,
			OriginVendor:     ref.rec.Provenance.Vendor,
			ExternalID:       key,
		},
	}
	id, err := b.writer.EnsureEntity(ctx, stub)
	if err != nil {
		return "", fernerrors.NewStorageError("graph", "ensure stub", err)
	}
	b.arena.putStub(ref.tenant, key, id)
	return id, nil
}

func (b *batchWriter) edge(ctx context.Context, edgeType, sourceID, targetID, sourceKey, targetKey string, metadata map[string]any, origin prepared) error {
	err := b.writer.UpsertEdge(ctx, models.GraphEdge{
		EdgeType:       edgeType,
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		Metadata:       metadata,
		Scope:          origin.rec.Scope,
		TenantID:       origin.tenant,
		Identity: models.EdgeIdentity{
			SourceLogicalKey: sourceKey,
			TargetLogicalKey: targetKey,
		},
	})
	if err != nil {
		return fernerrors.NewStorageError("graph", "upsert edge", err)
	}
	b.stats.Edges++
	return nil
}

func entityFor(p prepared) models.GraphEntity {
	rec := p.rec
	name := rec.DisplayName
	if name == "" {
		name = stringField(p.payload, "display_name", "name", "title", "summary")
	}
	if name == "" {
		name = p.key
	}
	return models.GraphEntity{
		ID:            graph.NodeID(p.tenant, p.key),
		EntityType:    rec.EntityType,
		DisplayName:   name,
		CanonicalPath: stringField(p.payload, "canonical_path", "path"),
		SourceSystem:  rec.Provenance.Vendor,
		Properties:    p.payload,
		Scope:         rec.Scope,
		TenantID:      p.tenant,
		Identity: models.EntityIdentity{
			LogicalKey:       p.key,
			OriginEndpointID: rec.Provenance.EndpointID,
			OriginVendor:     rec.Provenance.Vendor,
			ExternalID:       stringField(p.payload, "external_id", "source_id", "id"),
			Phase:            rec.Provenance.Phase,
			Provenance:       rec.Provenance.Map(),
		},
	}
}
