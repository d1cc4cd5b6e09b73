package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quiethours/contextmem/src/model"
)

// AccessMode controls whether a session is opened for read or write operations.
type AccessMode string

const (
	AccessModeWrite AccessMode = "write"
	AccessModeRead  AccessMode = "read"
)

// SessionConfig mirrors the minimal subset of Neo4j session configuration we
// require.
type SessionConfig struct {
	AccessMode   AccessMode
	DatabaseName string
}

// neo4jDriver abstracts the Neo4j driver capabilities used by the backend, so
// tests can provide lightweight fakes without the real driver package.
type neo4jDriver interface {
	NewSession(ctx context.Context, config SessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

const (
	neo4jMaxAttempts  = 3
	neo4jRetryBackoff = 250 * time.Millisecond
)

// Neo4jBackend persists the context graph in Neo4j. Nodes carry a single
// Context label with the node type as a property; relationships use one
// RELATED_TO type keyed by the logical (source, target, type) identity, since
// Cypher cannot parameterize relationship types.
type Neo4jBackend struct {
	driver   neo4jDriver
	database string
}

var _ Backend = (*Neo4jBackend)(nil)

// NewNeo4jBackend wraps an already-verified driver. Use Open to construct the
// backend from configuration with connectivity probing and fallback.
func NewNeo4jBackend(driver neo4jDriver, database string) (*Neo4jBackend, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	return &Neo4jBackend{driver: driver, database: database}, nil
}

// CreateSchema ensures the uniqueness constraint and tenant indexes exist.
func (b *Neo4jBackend) CreateSchema(ctx context.Context) error {
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Context) REQUIRE n.id IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (n:Context) ON (n.user_id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Context) ON (n.user_id, n.type)",
		"CREATE INDEX IF NOT EXISTS FOR ()-[r:RELATED_TO]-() ON (r.key)",
	}
	for _, query := range queries {
		if err := b.write(ctx, query, nil, nil); err != nil {
			return fmt.Errorf("neo4j schema: %w", err)
		}
	}
	return nil
}

func (b *Neo4jBackend) UpsertNode(ctx context.Context, node model.Node) error {
	params := map[string]any{
		"id":         node.ID,
		"type":       string(node.Type),
		"user_id":    node.UserID,
		"properties": encodeProps(node.Properties),
		"confidence": node.Confidence,
		"source":     node.Source,
		"hidden":     node.Hidden,
		"created_at": node.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": node.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return b.write(ctx, cypherUpsertNode, params, nil)
}

func (b *Neo4jBackend) GetNode(ctx context.Context, id string) (model.Node, bool, error) {
	var (
		node  model.Node
		found bool
	)
	err := b.read(ctx, cypherGetNode, map[string]any{"id": id}, func(rec neo4jRecord) error {
		node = nodeFromRecord(rec)
		found = true
		return nil
	})
	if err != nil {
		return model.Node{}, false, err
	}
	return node, found, nil
}

func (b *Neo4jBackend) UpsertEdge(ctx context.Context, edge model.Edge) error {
	params := map[string]any{
		"key":           edge.Key(),
		"id":            edge.ID,
		"type":          string(edge.Type),
		"source_id":     edge.SourceID,
		"target_id":     edge.TargetID,
		"properties":    encodeProps(edge.Properties),
		"confidence":    edge.Confidence,
		"weight":        edge.Weight,
		"bidirectional": edge.Bidirectional,
		"strength":      edge.Strength,
		"frequency":     edge.Frequency,
		"recency":       edge.Recency,
		"created_at":    edge.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    edge.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	return b.write(ctx, cypherUpsertEdge, params, nil)
}

func (b *Neo4jBackend) GetEdge(ctx context.Context, sourceID, targetID string, edgeType model.EdgeType) (model.Edge, bool, error) {
	var (
		edge  model.Edge
		found bool
	)
	params := map[string]any{"key": model.EdgeKey(sourceID, targetID, edgeType)}
	err := b.read(ctx, cypherGetEdge, params, func(rec neo4jRecord) error {
		edge = edgeFromRecord(rec)
		found = true
		return nil
	})
	if err != nil {
		return model.Edge{}, false, err
	}
	return edge, found, nil
}

func (b *Neo4jBackend) EdgesTouching(ctx context.Context, nodeID string) ([]model.Edge, error) {
	var out []model.Edge
	err := b.read(ctx, cypherEdgesTouching, map[string]any{"id": nodeID}, func(rec neo4jRecord) error {
		out = append(out, edgeFromRecord(rec))
		return nil
	})
	return out, err
}

func (b *Neo4jBackend) NodesByType(ctx context.Context, userID string, nodeType model.NodeType) ([]model.Node, error) {
	var out []model.Node
	params := map[string]any{"user_id": userID, "type": string(nodeType)}
	err := b.read(ctx, cypherNodesByType, params, func(rec neo4jRecord) error {
		out = append(out, nodeFromRecord(rec))
		return nil
	})
	return out, err
}

func (b *Neo4jBackend) EdgesForUser(ctx context.Context, userID string) ([]model.Edge, error) {
	var out []model.Edge
	err := b.read(ctx, cypherEdgesForUser, map[string]any{"user_id": userID}, func(rec neo4jRecord) error {
		out = append(out, edgeFromRecord(rec))
		return nil
	})
	return out, err
}

func (b *Neo4jBackend) DeleteNode(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := b.write(ctx, cypherDeleteNode, map[string]any{"id": id}, func(rec neo4jRecord) error {
		if v, ok := rec.Get("deleted"); ok {
			deleted = toInt(v) > 0
		}
		return nil
	})
	return deleted, err
}

func (b *Neo4jBackend) Counts(ctx context.Context, userID string) (int, int, error) {
	var nodes, edges int
	err := b.read(ctx, cypherCounts, map[string]any{"user_id": userID}, func(rec neo4jRecord) error {
		if v, ok := rec.Get("nodes"); ok {
			nodes = toInt(v)
		}
		if v, ok := rec.Get("edges"); ok {
			edges = toInt(v)
		}
		return nil
	})
	return nodes, edges, err
}

func (b *Neo4jBackend) Degraded() bool { return false }

func (b *Neo4jBackend) Close(ctx context.Context) error {
	if b.driver == nil {
		return nil
	}
	return b.driver.Close(ctx)
}

func (b *Neo4jBackend) write(ctx context.Context, query string, params map[string]any, each func(neo4jRecord) error) error {
	return b.run(ctx, AccessModeWrite, query, params, each)
}

func (b *Neo4jBackend) read(ctx context.Context, query string, params map[string]any, each func(neo4jRecord) error) error {
	return b.run(ctx, AccessModeRead, query, params, each)
}

// run executes one query with bounded retries. Transient failures back off
// exponentially; context cancellation and result-callback errors end the loop
// immediately.
func (b *Neo4jBackend) run(ctx context.Context, mode AccessMode, query string, params map[string]any, each func(neo4jRecord) error) error {
	var lastErr error
	for attempt := 0; attempt < neo4jMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(neo4jRetryBackoff << (attempt - 1)):
			}
		}
		err := b.runOnce(ctx, mode, query, params, each)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: neo4j query failed after %d attempts: %s", model.ErrBackendUnavailable, neo4jMaxAttempts, lastErr)
}

func (b *Neo4jBackend) runOnce(ctx context.Context, mode AccessMode, query string, params map[string]any, each func(neo4jRecord) error) error {
	session, err := b.driver.NewSession(ctx, SessionConfig{AccessMode: mode, DatabaseName: b.database})
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	defer session.Close(ctx)
	result, err := session.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer result.Close(ctx)
	for result.Next(ctx) {
		if each == nil {
			continue
		}
		if err := each(result.Record()); err != nil {
			return err
		}
	}
	return result.Err()
}

const (
	cypherUpsertNode = `
MERGE (n:Context {id: $id})
ON CREATE SET n.created_at = $created_at
SET n.type = $type,
    n.user_id = $user_id,
    n.properties = $properties,
    n.confidence = $confidence,
    n.source = $source,
    n.hidden = $hidden,
    n.updated_at = $updated_at
`
	nodeReturn = `
RETURN n.id AS id, n.type AS type, n.user_id AS user_id, n.properties AS properties,
       n.confidence AS confidence, n.source AS source, n.hidden AS hidden,
       n.created_at AS created_at, n.updated_at AS updated_at
`
	cypherGetNode = `MATCH (n:Context {id: $id})` + nodeReturn

	cypherNodesByType = `MATCH (n:Context {user_id: $user_id, type: $type})` + nodeReturn

	cypherUpsertEdge = `
MATCH (a:Context {id: $source_id})
MATCH (b:Context {id: $target_id})
MERGE (a)-[r:RELATED_TO {key: $key}]->(b)
ON CREATE SET r.created_at = $created_at
SET r.id = $id,
    r.type = $type,
    r.source_id = $source_id,
    r.target_id = $target_id,
    r.properties = $properties,
    r.confidence = $confidence,
    r.weight = $weight,
    r.bidirectional = $bidirectional,
    r.strength = $strength,
    r.frequency = $frequency,
    r.recency = $recency,
    r.updated_at = $updated_at
`
	edgeReturn = `
RETURN r.id AS id, r.type AS type, r.source_id AS source_id, r.target_id AS target_id,
       r.properties AS properties, r.confidence AS confidence, r.weight AS weight,
       r.bidirectional AS bidirectional, r.strength AS strength, r.frequency AS frequency,
       r.recency AS recency, r.created_at AS created_at, r.updated_at AS updated_at
`
	cypherGetEdge = `MATCH ()-[r:RELATED_TO {key: $key}]->()` + edgeReturn

	cypherEdgesTouching = `MATCH (n:Context {id: $id})-[r:RELATED_TO]-()` + edgeReturn

	cypherEdgesForUser = `MATCH (a:Context {user_id: $user_id})-[r:RELATED_TO]->()` + edgeReturn

	cypherDeleteNode = `
MATCH (n:Context {id: $id})
WITH n, count(n) AS found
DETACH DELETE n
RETURN found AS deleted
`
	cypherCounts = `
MATCH (n:Context {user_id: $user_id})
OPTIONAL MATCH (n)-[r:RELATED_TO]->()
RETURN count(DISTINCT n) AS nodes, count(r) AS edges
`
)

func nodeFromRecord(rec neo4jRecord) model.Node {
	var out model.Node
	if v, ok := rec.Get("id"); ok {
		out.ID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("type"); ok {
		out.Type = model.NodeType(model.StringFromAny(v))
	}
	if v, ok := rec.Get("user_id"); ok {
		out.UserID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("properties"); ok {
		out.Properties = decodeProps(v)
	}
	if v, ok := rec.Get("confidence"); ok {
		out.Confidence = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("source"); ok {
		out.Source = model.StringFromAny(v)
	}
	if v, ok := rec.Get("hidden"); ok {
		out.Hidden = model.BoolFromAny(v)
	}
	if v, ok := rec.Get("created_at"); ok {
		out.CreatedAt = model.TimeFromAny(v)
	}
	if v, ok := rec.Get("updated_at"); ok {
		out.UpdatedAt = model.TimeFromAny(v)
	}
	return out
}

func edgeFromRecord(rec neo4jRecord) model.Edge {
	var out model.Edge
	if v, ok := rec.Get("id"); ok {
		out.ID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("type"); ok {
		out.Type = model.EdgeType(model.StringFromAny(v))
	}
	if v, ok := rec.Get("source_id"); ok {
		out.SourceID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("target_id"); ok {
		out.TargetID = model.StringFromAny(v)
	}
	if v, ok := rec.Get("properties"); ok {
		out.Properties = decodeProps(v)
	}
	if v, ok := rec.Get("confidence"); ok {
		out.Confidence = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("weight"); ok {
		out.Weight = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("bidirectional"); ok {
		out.Bidirectional = model.BoolFromAny(v)
	}
	if v, ok := rec.Get("strength"); ok {
		out.Strength = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("frequency"); ok {
		out.Frequency = toInt(v)
	}
	if v, ok := rec.Get("recency"); ok {
		out.Recency = model.FloatFromAny(v)
	}
	if v, ok := rec.Get("created_at"); ok {
		out.CreatedAt = model.TimeFromAny(v)
	}
	if v, ok := rec.Get("updated_at"); ok {
		out.UpdatedAt = model.TimeFromAny(v)
	}
	return out
}

func toInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	}
	return model.IntFromAny(v)
}

// encodeProps serializes a property map to a JSON string; Neo4j properties
// cannot hold nested maps directly.
func encodeProps(props map[string]any) string {
	if len(props) == 0 {
		return "{}"
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeProps(v any) map[string]any {
	raw := strings.TrimSpace(model.StringFromAny(v))
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
