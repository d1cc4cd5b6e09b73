package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quiethours/contextmem/src/model"
)

// Query defaults, applied when the caller passes the zero value.
const (
	DefaultRelatedLimit  = 10
	DefaultMaxPathLength = 5
	DefaultMaxDepth      = 3
	DefaultMinStrength   = 0.2
)

// Connectivity queries treat edges as undirected: "how are X and Y connected"
// does not care which way the relationship was recorded.

// RelatedNodes returns the neighbors of a node ordered by descending edge
// strength, then descending edge recency. Edges below minStrength and hidden
// neighbors are excluded. The tenant filter is mandatory: a node owned by a
// different tenant is reported as not found.
func (s *Store) RelatedNodes(ctx context.Context, userID, nodeID string, types []model.EdgeType, limit int, minStrength float64) ([]model.Node, error) {
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}
	if s.backend.Degraded() {
		return nil, nil
	}
	if _, err := s.tenantNode(ctx, userID, nodeID); err != nil {
		return nil, err
	}
	edges, err := s.backend.EdgesTouching(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	allowed := typeSet(types)
	kept := edges[:0]
	for _, edge := range edges {
		if edge.Strength < minStrength {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[edge.Type]; !ok {
				continue
			}
		}
		kept = append(kept, edge)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Strength != kept[j].Strength {
			return kept[i].Strength > kept[j].Strength
		}
		return kept[i].Recency > kept[j].Recency
	})

	out := make([]model.Node, 0, limit)
	seen := map[string]struct{}{nodeID: {}}
	for _, edge := range kept {
		if len(out) >= limit {
			break
		}
		otherID := edge.TargetID
		if otherID == nodeID {
			otherID = edge.SourceID
		}
		if _, ok := seen[otherID]; ok {
			continue
		}
		seen[otherID] = struct{}{}
		node, found, err := s.backend.GetNode(ctx, otherID)
		if err != nil {
			return nil, err
		}
		if !found || node.Hidden || node.UserID != userID {
			continue
		}
		out = append(out, node)
	}
	return out, nil
}

// ShortestPath finds the path with the fewest edges between two nodes,
// honoring an optional relationship-type allow-list. An empty slice means no
// path exists within maxLength hops; that is a normal outcome, not an error.
func (s *Store) ShortestPath(ctx context.Context, userID, sourceID, targetID string, types []model.EdgeType, maxLength int) ([]model.Node, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxPathLength
	}
	if s.backend.Degraded() {
		return nil, nil
	}
	source, err := s.tenantNode(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.tenantNode(ctx, userID, targetID); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return []model.Node{source}, nil
	}

	allowed := typeSet(types)
	parent := map[string]string{sourceID: ""}
	frontier := []string{sourceID}
	for depth := 0; depth < maxLength && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []string
		for _, id := range frontier {
			steps, err := s.neighborSteps(ctx, id, allowed, 0)
			if err != nil {
				return nil, err
			}
			for _, step := range steps {
				if _, visited := parent[step.nodeID]; visited {
					continue
				}
				parent[step.nodeID] = id
				if step.nodeID == targetID {
					return s.materializePath(ctx, parent, targetID)
				}
				next = append(next, step.nodeID)
			}
		}
		frontier = next
	}
	return nil, nil
}

// RelevanceScore aggregates how strongly an entity connects to a class of
// target nodes: for every simple path within maxDepth hops ending at a node of
// targetType it adds (product of edge strengths) / pathLength². The squared
// denominator penalizes long, weak chains of inference harder than linear
// decay would. No path at all scores 0.0 without an error.
func (s *Store) RelevanceScore(ctx context.Context, userID, entityID string, targetType model.NodeType, types []model.EdgeType, maxDepth int) (float64, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if s.backend.Degraded() {
		return 0, nil
	}
	if _, err := s.tenantNode(ctx, userID, entityID); err != nil {
		return 0, err
	}
	allowed := typeSet(types)
	total := 0.0
	visited := map[string]bool{entityID: true}

	var walk func(id string, depth int, product float64) error
	walk = func(id string, depth int, product float64) error {
		if depth >= maxDepth {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		steps, err := s.neighborSteps(ctx, id, allowed, 0)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if visited[step.nodeID] {
				continue
			}
			node, found, err := s.backend.GetNode(ctx, step.nodeID)
			if err != nil {
				return err
			}
			if !found || node.UserID != userID {
				continue
			}
			nextProduct := product * step.edge.Strength
			length := depth + 1
			if node.Type == targetType {
				total += nextProduct / float64(length*length)
			}
			visited[step.nodeID] = true
			if err := walk(step.nodeID, depth+1, nextProduct); err != nil {
				return err
			}
			visited[step.nodeID] = false
		}
		return nil
	}
	if err := walk(entityID, 0, 1.0); err != nil {
		return 0, err
	}
	return total, nil
}

// ReasoningResult is the best-explanation answer for a node pair.
type ReasoningResult struct {
	Path          []model.Node
	Relationships []model.Edge
	Score         float64
	Explanation   string
}

// Reasoning finds the path between two nodes that maximizes the product of
// edge strengths, considering only paths within maxLength hops whose every
// edge strength is at least minStrength. A missing connection is a normal
// outcome: empty path, score 0 and an explanation saying so.
func (s *Store) Reasoning(ctx context.Context, userID, sourceID, targetID string, maxLength int, minStrength float64) (ReasoningResult, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxPathLength
	}
	if minStrength <= 0 {
		minStrength = DefaultMinStrength
	}
	if s.backend.Degraded() {
		return ReasoningResult{Explanation: "no connection found"}, nil
	}
	source, err := s.tenantNode(ctx, userID, sourceID)
	if err != nil {
		return ReasoningResult{}, err
	}
	target, err := s.tenantNode(ctx, userID, targetID)
	if err != nil {
		return ReasoningResult{}, err
	}

	var (
		bestIDs   []string
		bestEdges []model.Edge
		bestScore float64
	)
	visited := map[string]bool{sourceID: true}
	pathIDs := []string{sourceID}
	var pathEdges []model.Edge

	var walk func(id string, product float64) error
	walk = func(id string, product float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id == targetID {
			if betterPath(product, pathIDs, bestScore, bestIDs) {
				bestScore = product
				bestIDs = append([]string(nil), pathIDs...)
				bestEdges = append([]model.Edge(nil), pathEdges...)
			}
			return nil
		}
		if len(pathEdges) >= maxLength {
			return nil
		}
		steps, err := s.neighborSteps(ctx, id, nil, minStrength)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if visited[step.nodeID] {
				continue
			}
			visited[step.nodeID] = true
			pathIDs = append(pathIDs, step.nodeID)
			pathEdges = append(pathEdges, step.edge)
			err := walk(step.nodeID, product*step.edge.Strength)
			pathIDs = pathIDs[:len(pathIDs)-1]
			pathEdges = pathEdges[:len(pathEdges)-1]
			visited[step.nodeID] = false
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(sourceID, 1.0); err != nil {
		return ReasoningResult{}, err
	}

	if len(bestIDs) == 0 {
		return ReasoningResult{
			Explanation: fmt.Sprintf("no connection found between %s(%s) and %s(%s)",
				source.Type, source.ID, target.Type, target.ID),
		}, nil
	}

	nodes := make([]model.Node, 0, len(bestIDs))
	for _, id := range bestIDs {
		node, found, err := s.backend.GetNode(ctx, id)
		if err != nil {
			return ReasoningResult{}, err
		}
		if !found {
			return ReasoningResult{}, fmt.Errorf("path node %q: %w", id, model.ErrNotFound)
		}
		nodes = append(nodes, node)
	}
	return ReasoningResult{
		Path:          nodes,
		Relationships: bestEdges,
		Score:         bestScore,
		Explanation:   explainPath(nodes, bestEdges),
	}, nil
}

// betterPath prefers a higher score, then a shorter path, then the
// lexicographically smaller id sequence so results are deterministic for a
// fixed graph.
func betterPath(score float64, ids []string, bestScore float64, bestIDs []string) bool {
	if len(bestIDs) == 0 {
		return true
	}
	if score != bestScore {
		return score > bestScore
	}
	if len(ids) != len(bestIDs) {
		return len(ids) < len(bestIDs)
	}
	return strings.Join(ids, "|") < strings.Join(bestIDs, "|")
}

func explainPath(nodes []model.Node, edges []model.Edge) string {
	var sb strings.Builder
	for i, node := range nodes {
		if i > 0 {
			fmt.Fprintf(&sb, " -[%s]-> ", edges[i-1].Type)
		}
		fmt.Fprintf(&sb, "%s(%s)", node.Type, node.ID)
	}
	return sb.String()
}

// step is one traversal hop: the edge taken and the node on its far side.
type step struct {
	nodeID string
	edge   model.Edge
}

// neighborSteps lists the hops available from a node, sorted by far-side id
// and type so traversal order (and therefore reasoning output) is stable.
func (s *Store) neighborSteps(ctx context.Context, nodeID string, allowed map[model.EdgeType]struct{}, minStrength float64) ([]step, error) {
	edges, err := s.backend.EdgesTouching(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(edges))
	for _, edge := range edges {
		if edge.Strength < minStrength {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[edge.Type]; !ok {
				continue
			}
		}
		otherID := edge.TargetID
		if otherID == nodeID {
			otherID = edge.SourceID
		}
		if otherID == nodeID {
			continue
		}
		steps = append(steps, step{nodeID: otherID, edge: edge})
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].nodeID != steps[j].nodeID {
			return steps[i].nodeID < steps[j].nodeID
		}
		return steps[i].edge.Type < steps[j].edge.Type
	})
	return steps, nil
}

func (s *Store) materializePath(ctx context.Context, parent map[string]string, targetID string) ([]model.Node, error) {
	var ids []string
	for id := targetID; id != ""; id = parent[id] {
		ids = append(ids, id)
	}
	// reverse into source -> target order
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	nodes := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		node, found, err := s.backend.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("path node %q: %w", id, model.ErrNotFound)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// tenantNode fetches a node and enforces the tenant boundary: a node owned by
// another tenant is indistinguishable from a missing one.
func (s *Store) tenantNode(ctx context.Context, userID, id string) (model.Node, error) {
	node, found, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return model.Node{}, err
	}
	if !found || node.UserID != userID {
		return model.Node{}, fmt.Errorf("node %q: %w", id, model.ErrNotFound)
	}
	return node, nil
}

func typeSet(types []model.EdgeType) map[model.EdgeType]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[model.EdgeType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
