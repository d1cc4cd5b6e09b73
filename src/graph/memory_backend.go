package graph

import (
	"context"
	"sync"

	"github.com/quiethours/contextmem/src/model"
)

// MemoryBackend is the embedded in-process graph engine. It is the default
// when no external graph database is configured and the workhorse for tests.
// Reads take the shared lock only, so they never wait on each other.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]model.Node
	edges map[string]model.Edge
	// incident maps node id -> edge keys touching it, either endpoint.
	incident map[string]map[string]struct{}
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:    make(map[string]model.Node),
		edges:    make(map[string]model.Edge),
		incident: make(map[string]map[string]struct{}),
	}
}

func (b *MemoryBackend) UpsertNode(_ context.Context, node model.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[node.ID] = node.Clone()
	return nil
}

func (b *MemoryBackend) GetNode(_ context.Context, id string) (model.Node, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node, ok := b.nodes[id]
	if !ok {
		return model.Node{}, false, nil
	}
	return node.Clone(), true, nil
}

func (b *MemoryBackend) UpsertEdge(_ context.Context, edge model.Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := edge.Key()
	b.edges[key] = edge.Clone()
	b.link(edge.SourceID, key)
	b.link(edge.TargetID, key)
	return nil
}

func (b *MemoryBackend) link(nodeID, edgeKey string) {
	set, ok := b.incident[nodeID]
	if !ok {
		set = make(map[string]struct{})
		b.incident[nodeID] = set
	}
	set[edgeKey] = struct{}{}
}

func (b *MemoryBackend) GetEdge(_ context.Context, sourceID, targetID string, edgeType model.EdgeType) (model.Edge, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	edge, ok := b.edges[model.EdgeKey(sourceID, targetID, edgeType)]
	if !ok {
		return model.Edge{}, false, nil
	}
	return edge.Clone(), true, nil
}

func (b *MemoryBackend) EdgesTouching(_ context.Context, nodeID string) ([]model.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := b.incident[nodeID]
	if len(keys) == 0 {
		return nil, nil
	}
	out := make([]model.Edge, 0, len(keys))
	for key := range keys {
		if edge, ok := b.edges[key]; ok {
			out = append(out, edge.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) NodesByType(_ context.Context, userID string, nodeType model.NodeType) ([]model.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []model.Node
	for _, node := range b.nodes {
		if node.UserID == userID && node.Type == nodeType {
			out = append(out, node.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) EdgesForUser(ctx context.Context, userID string) ([]model.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []model.Edge
	for _, edge := range b.edges {
		source, ok := b.nodes[edge.SourceID]
		if ok && source.UserID == userID {
			out = append(out, edge.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) DeleteNode(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nodes[id]; !ok {
		return false, nil
	}
	delete(b.nodes, id)
	for key := range b.incident[id] {
		edge, ok := b.edges[key]
		if !ok {
			continue
		}
		delete(b.edges, key)
		other := edge.SourceID
		if other == id {
			other = edge.TargetID
		}
		if set, ok := b.incident[other]; ok {
			delete(set, key)
		}
	}
	delete(b.incident, id)
	return true, nil
}

func (b *MemoryBackend) Counts(_ context.Context, userID string) (int, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	nodes := 0
	for _, node := range b.nodes {
		if node.UserID == userID {
			nodes++
		}
	}
	edges := 0
	for _, edge := range b.edges {
		if source, ok := b.nodes[edge.SourceID]; ok && source.UserID == userID {
			edges++
		}
	}
	return nodes, edges, nil
}

func (b *MemoryBackend) Degraded() bool { return false }

func (b *MemoryBackend) Close(context.Context) error { return nil }
