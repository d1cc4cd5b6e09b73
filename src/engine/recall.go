package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quiethours/contextmem/src/graph"
	"github.com/quiethours/contextmem/src/model"
	"github.com/quiethours/contextmem/src/vector"
)

// RecallOptions shapes a composite recall query.
type RecallOptions struct {
	// EntityID anchors the graph side of the recall. Empty means vector
	// search and emotion state only.
	EntityID string
	Limit    int
	Filters  *vector.Filters
}

// RecallResult blends both stores: the anchor node with its strongest
// neighbors, the most similar memories, and the tenant's emotion snapshot.
type RecallResult struct {
	Entity   *model.Node
	Related  []model.Node
	Memories []vector.ScoredItem
	Emotion  model.EmotionAttrs
}

// Recall answers "what do we know that is relevant right now". The three
// lookups run concurrently; an unknown EntityID surfaces as ErrNotFound.
func (e *Engine) Recall(ctx context.Context, userID, query string, opts RecallOptions) (RecallResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = vector.DefaultSearchLimit
	}

	var (
		wg       sync.WaitGroup
		result   RecallResult
		graphErr error
		memErr   error
		emoErr   error
	)

	if opts.EntityID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node, err := e.graph.GetNode(ctx, opts.EntityID)
			if err != nil {
				graphErr = err
				return
			}
			if node.UserID != userID {
				graphErr = fmt.Errorf("node %q: %w", opts.EntityID, model.ErrNotFound)
				return
			}
			result.Entity = &node
			related, err := e.graph.RelatedNodes(ctx, userID, opts.EntityID, nil, opts.Limit, 0)
			if err != nil {
				graphErr = err
				return
			}
			result.Related = related
		}()
	}

	if query != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			embedding, err := e.embedder.Embed(ctx, query)
			if err != nil {
				memErr = fmt.Errorf("recall: embed query: %w", err)
				return
			}
			memories, err := e.memories.Search(ctx, userID, embedding, opts.Limit, opts.Filters)
			if err != nil {
				memErr = fmt.Errorf("recall: memory search: %w", err)
				return
			}
			result.Memories = memories
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		emotion, err := e.EmotionState(ctx, userID)
		if err != nil {
			emoErr = err
			return
		}
		result.Emotion = emotion
	}()

	wg.Wait()
	for _, err := range []error{graphErr, memErr, emoErr} {
		if err != nil {
			return RecallResult{}, err
		}
	}

	// No query but an anchor node: seed the memory search from the node's
	// own text so recall still blends both stores.
	if query == "" && result.Entity != nil {
		if seed := nodeSeedText(*result.Entity); seed != "" {
			memories, err := e.Search(ctx, userID, seed, opts.Limit, opts.Filters)
			if err != nil {
				return RecallResult{}, err
			}
			result.Memories = memories
		}
	}
	return result, nil
}

func nodeSeedText(node model.Node) string {
	for _, key := range []string{"subject", "title", "summary", "description"} {
		if v := model.StringFromAny(node.Properties[key]); v != "" {
			return v
		}
	}
	return ""
}

// Search is the plain vector-only recall.
func (e *Engine) Search(ctx context.Context, userID, query string, limit int, filters *vector.Filters) ([]vector.ScoredItem, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	return e.memories.Search(ctx, userID, embedding, limit, filters)
}

// Reasoning explains how two of the tenant's entities connect.
func (e *Engine) Reasoning(ctx context.Context, userID, sourceID, targetID string) (graph.ReasoningResult, error) {
	return e.graph.Reasoning(ctx, userID, sourceID, targetID, 0, 0)
}

// Forget removes a node, its incident edges, and the memories mirrored from
// it. Reports whether anything was deleted. Nothing is deleted unless the
// node was read back and belongs to userID.
func (e *Engine) Forget(ctx context.Context, userID, nodeID string) (bool, error) {
	node, err := e.graph.GetNode(ctx, nodeID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("forget: node lookup: %w", err)
	}
	if node.UserID != userID {
		return false, nil
	}

	deleted, err := e.graph.DeleteNode(ctx, nodeID)
	if err != nil {
		return false, fmt.Errorf("forget: graph delete: %w", err)
	}

	var mirrored []string
	err = e.memories.Iterate(ctx, userID, func(item model.MemoryItem) bool {
		if model.StringFromAny(item.Metadata["node_id"]) == nodeID {
			mirrored = append(mirrored, item.ID)
		}
		return true
	})
	if err != nil {
		return deleted, fmt.Errorf("forget: memory scan: %w", err)
	}
	if len(mirrored) > 0 {
		if err := e.memories.Delete(ctx, userID, mirrored); err != nil {
			return deleted, fmt.Errorf("forget: memory delete: %w", err)
		}
		deleted = true
	}
	return deleted, nil
}

// Stats summarizes a tenant's footprint across both stores.
type Stats struct {
	GraphNodes int
	GraphEdges int
	Memories   int
	Degraded   bool
}

func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	graphStats, err := e.graph.Stats(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	memories, err := e.memories.Count(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		GraphNodes: graphStats.Nodes,
		GraphEdges: graphStats.Edges,
		Memories:   memories,
		Degraded:   e.graph.Degraded(),
	}, nil
}

// AgeMemories decays the tenant's edge recencies; the schedule belongs to the
// external maintenance caller.
func (e *Engine) AgeMemories(ctx context.Context, userID string, factor float64) error {
	return e.graph.AgeEdges(ctx, userID, factor)
}
