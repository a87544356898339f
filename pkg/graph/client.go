// Package graph writes knowledge graph nodes and edges to Neo4j or Memgraph
// over Bolt.
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Writer is the store surface the knowledge graph sink writes through. Every
// call completes its write before returning.
type Writer interface {
	// UpsertEntity replaces the node snapshot for the entity's logical key
	// and returns the node id.
	UpsertEntity(ctx context.Context, entity models.GraphEntity) (string, error)
	// EnsureEntity creates a stub node if none exists for the logical key.
	// An existing node is left untouched.
	EnsureEntity(ctx context.Context, entity models.GraphEntity) (string, error)
	UpsertEdge(ctx context.Context, edge models.GraphEdge) error
	Close(ctx context.Context) error
}

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Client wraps the Neo4j driver. It is safe for concurrent use; sessions are
// not.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	logger   ectologger.Logger
}

func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}

	return &Client{
		driver:   driver,
		database: cfg.Database,
		logger:   logger,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Open starts a write session. The caller closes it.
func (c *Client) Open(ctx context.Context) (Writer, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	return &Session{session: session, logger: c.logger}, nil
}

// Session is one Bolt session used for the writes of a single sink run.
type Session struct {
	session neo4j.SessionWithContext
	logger  ectologger.Logger
}

func (s *Session) UpsertEntity(ctx context.Context, entity models.GraphEntity) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Session.UpsertEntity")
	defer span.End()

	id, err := s.writeNode(ctx, upsertEntityCypher(entity.EntityType), entity, false)
	if err != nil {
		tracing.RecordError(span, err, "failed to upsert entity")
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"logical_key": entity.Identity.LogicalKey,
			"entity_type": entity.EntityType,
			"tenant_id":   entity.TenantID,
		}).WithError(err).Error("failed to upsert entity in graph")
		return "", fmt.Errorf("failed to upsert entity in graph: %w", err)
	}
	return id, nil
}

func (s *Session) EnsureEntity(ctx context.Context, entity models.GraphEntity) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Session.EnsureEntity")
	defer span.End()

	id, err := s.writeNode(ctx, ensureEntityCypher(entity.EntityType), entity, true)
	if err != nil {
		tracing.RecordError(span, err, "failed to ensure entity")
		return "", fmt.Errorf("failed to ensure stub entity in graph: %w", err)
	}
	return id, nil
}

func (s *Session) writeNode(ctx context.Context, cypher string, entity models.GraphEntity, stub bool) (string, error) {
	params := map[string]any{
		"tenant_id":   entity.TenantID,
		"logical_key": entity.Identity.LogicalKey,
		"props":       EntityProperties(entity, stub),
	}

	res, err := s.session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := record.Get("id")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	id, _ := res.(string)
	if id == "" {
		id = entity.ID
	}
	return id, nil
}

func (s *Session) UpsertEdge(ctx context.Context, edge models.GraphEdge) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Session.UpsertEdge")
	defer span.End()

	params := map[string]any{
		"tenant_id": edge.TenantID,
		"source_id": edge.SourceEntityID,
		"target_id": edge.TargetEntityID,
		"id":        EdgeID(edge),
		"props":     EdgeProperties(edge),
	}

	_, err := s.session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, upsertEdgeCypher(edge.EdgeType), params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		tracing.RecordError(span, err, "failed to upsert edge")
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"edge_type": edge.EdgeType,
			"source_id": edge.SourceEntityID,
			"target_id": edge.TargetEntityID,
		}).WithError(err).Error("failed to upsert edge in graph")
		return fmt.Errorf("failed to upsert edge in graph: %w", err)
	}
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}
