// Package graph implements the typed context graph: node/edge storage with
// neighbor, path, relevance and reasoning queries on top of a pluggable
// backend. When the configured backend is unreachable the store runs against
// a null backend that accepts writes and returns empty reads, so callers keep
// functioning in a degraded mode instead of crashing.
package graph

import (
	"context"

	"github.com/quiethours/contextmem/src/model"
)

// Backend is the storage capability the store builds on. Implementations must
// apply the tenant filter server-side on every multi-row query.
type Backend interface {
	UpsertNode(ctx context.Context, node model.Node) error
	GetNode(ctx context.Context, id string) (model.Node, bool, error)
	UpsertEdge(ctx context.Context, edge model.Edge) error
	GetEdge(ctx context.Context, sourceID, targetID string, edgeType model.EdgeType) (model.Edge, bool, error)
	// EdgesTouching returns every edge incident to the node, either direction.
	EdgesTouching(ctx context.Context, nodeID string) ([]model.Edge, error)
	NodesByType(ctx context.Context, userID string, nodeType model.NodeType) ([]model.Node, error)
	EdgesForUser(ctx context.Context, userID string) ([]model.Edge, error)
	// DeleteNode removes the node and all incident edges. Reports whether the
	// node existed.
	DeleteNode(ctx context.Context, id string) (bool, error)
	Counts(ctx context.Context, userID string) (nodes int, edges int, err error)
	// Degraded reports whether this backend is the null (mock mode) variant.
	Degraded() bool
	Close(ctx context.Context) error
}

// NullBackend is the degraded operating mode used when the graph engine is
// unreachable: every write reports success without persisting anything and
// every read comes back empty. Selected once at construction, never silently.
type NullBackend struct{}

var _ Backend = NullBackend{}

func (NullBackend) UpsertNode(context.Context, model.Node) error { return nil }

func (NullBackend) GetNode(context.Context, string) (model.Node, bool, error) {
	return model.Node{}, false, nil
}

func (NullBackend) UpsertEdge(context.Context, model.Edge) error { return nil }

func (NullBackend) GetEdge(context.Context, string, string, model.EdgeType) (model.Edge, bool, error) {
	return model.Edge{}, false, nil
}

func (NullBackend) EdgesTouching(context.Context, string) ([]model.Edge, error) { return nil, nil }

func (NullBackend) NodesByType(context.Context, string, model.NodeType) ([]model.Node, error) {
	return nil, nil
}

func (NullBackend) EdgesForUser(context.Context, string) ([]model.Edge, error) { return nil, nil }

func (NullBackend) DeleteNode(context.Context, string) (bool, error) { return true, nil }

func (NullBackend) Counts(context.Context, string) (int, int, error) { return 0, 0, nil }

func (NullBackend) Degraded() bool { return true }

func (NullBackend) Close(context.Context) error { return nil }
