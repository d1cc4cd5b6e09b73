package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/quiethours/contextmem/src/concurrent"
	"github.com/quiethours/contextmem/src/model"
)

// Options configures Open. An empty Neo4jURI selects the embedded in-memory
// backend; a set URI that fails the connectivity probe selects the null
// backend (mock mode).
type Options struct {
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	ProbeTimeout  time.Duration
	Logger        *log.Logger
}

// Store is the typed context graph. It wraps a Backend with validation,
// derived-strength bookkeeping and the traversal queries, and serializes
// concurrent writes to the same logical edge through a per-key lock so the
// frequency-increment-then-recompute sequence never races. Writes to distinct
// edges proceed in parallel; reads go straight to the backend.
type Store struct {
	backend Backend
	logger  *log.Logger
	nowFn   func() time.Time
	locks   *concurrent.KeyedLocks
}

// NewStore builds a store over an explicit backend. Used directly in tests;
// production callers usually go through Open.
func NewStore(backend Backend, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		nowFn:   time.Now,
		locks:   concurrent.NewKeyedLocks(),
	}
}

// Open selects a backend from the options. The degraded path is an explicit,
// logged mode switch decided once here, never an exception swallowed later.
func Open(ctx context.Context, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Neo4jURI == "" {
		logger.Debug("graph: no neo4j configured, using embedded backend")
		return NewStore(NewMemoryBackend(), logger)
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	driver, err := neo4j.NewDriverWithContext(opts.Neo4jURI, neo4j.BasicAuth(opts.Neo4jUser, opts.Neo4jPassword, ""))
	if err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = driver.VerifyConnectivity(probeCtx)
		cancel()
	}
	if err != nil {
		logger.Warn("graph: backend unreachable, entering mock mode",
			"uri", opts.Neo4jURI, "err", err)
		return NewStore(NullBackend{}, logger)
	}
	backend, berr := NewNeo4jBackend(WrapNeo4jDriver(driver), opts.Neo4jDatabase)
	if berr != nil {
		logger.Warn("graph: backend setup failed, entering mock mode", "err", berr)
		return NewStore(NullBackend{}, logger)
	}
	if err := backend.CreateSchema(ctx); err != nil {
		logger.Warn("graph: schema setup failed", "err", err)
	}
	logger.Info("graph: connected", "uri", opts.Neo4jURI)
	return NewStore(backend, logger)
}

// Degraded reports whether the store runs in mock mode.
func (s *Store) Degraded() bool { return s.backend.Degraded() }

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error { return s.backend.Close(ctx) }

func (s *Store) now() time.Time { return s.nowFn().UTC() }

// lockEdge serializes writers of one logical edge key.
func (s *Store) lockEdge(key string) func() {
	return s.locks.Acquire(key)
}

// UpsertNode creates or replaces a node by id. A missing id is generated; the
// original created_at survives replacement and the tenant tag is mirrored
// into the property map.
func (s *Store) UpsertNode(ctx context.Context, node model.Node) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := node.Validate(); err != nil {
		return "", err
	}
	now := s.now()
	node.UpdatedAt = now
	node.CreatedAt = now
	if existing, found, err := s.backend.GetNode(ctx, node.ID); err != nil {
		return "", err
	} else if found {
		node.CreatedAt = existing.CreatedAt
	}
	if node.Properties == nil {
		node.Properties = map[string]any{}
	} else {
		node.Properties = model.CloneProperties(node.Properties)
	}
	node.Properties["user_id"] = node.UserID
	if err := s.backend.UpsertNode(ctx, node); err != nil {
		return "", err
	}
	return node.ID, nil
}

// GetNode returns the node or model.ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (model.Node, error) {
	node, found, err := s.backend.GetNode(ctx, id)
	if err != nil {
		return model.Node{}, err
	}
	if !found {
		return model.Node{}, fmt.Errorf("node %q: %w", id, model.ErrNotFound)
	}
	return node, nil
}

// EdgeOptions carries the optional fields of CreateEdge. Strength set here is
// an initial override and skips the derived recomputation for this call.
type EdgeOptions struct {
	Properties    map[string]any
	Confidence    float64
	Weight        float64
	Bidirectional bool
	Strength      *float64
	Recency       *float64
}

// CreateEdge records a relationship between two existing nodes. A repeated
// (source, target, type) call increments the edge frequency and recomputes the
// derived strength instead of duplicating the edge.
func (s *Store) CreateEdge(ctx context.Context, sourceID, targetID string, edgeType model.EdgeType, opts *EdgeOptions) error {
	probe := model.Edge{Type: edgeType, SourceID: sourceID, TargetID: targetID}
	if err := probe.Validate(); err != nil {
		return err
	}
	if s.backend.Degraded() {
		return nil
	}

	key := probe.Key()
	unlock := s.lockEdge(key)
	defer unlock()

	now := s.now()
	existing, found, err := s.backend.GetEdge(ctx, sourceID, targetID, edgeType)
	if err != nil {
		return err
	}
	if found {
		existing.Frequency++
		if opts != nil && opts.Recency != nil {
			existing.Recency = *opts.Recency
		}
		if opts != nil && opts.Strength != nil {
			existing.Strength = *opts.Strength
		} else {
			existing.Recompute()
		}
		if opts != nil && len(opts.Properties) > 0 {
			if existing.Properties == nil {
				existing.Properties = map[string]any{}
			}
			for k, v := range opts.Properties {
				existing.Properties[k] = v
			}
		}
		existing.UpdatedAt = now
		return s.backend.UpsertEdge(ctx, existing)
	}

	source, found, err := s.backend.GetNode(ctx, sourceID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: edge source %q does not exist", model.ErrValidation, sourceID)
	}
	target, found, err := s.backend.GetNode(ctx, targetID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: edge target %q does not exist", model.ErrValidation, targetID)
	}
	if source.UserID != target.UserID {
		return fmt.Errorf("%w: edge endpoints belong to different tenants", model.ErrValidation)
	}

	edge := model.Edge{
		ID:        uuid.NewString(),
		Type:      edgeType,
		SourceID:  sourceID,
		TargetID:  targetID,
		Strength:  0.5,
		Frequency: 1,
		Recency:   1.0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts != nil {
		edge.Properties = model.CloneProperties(opts.Properties)
		edge.Confidence = opts.Confidence
		edge.Weight = opts.Weight
		edge.Bidirectional = opts.Bidirectional
		if opts.Recency != nil {
			edge.Recency = *opts.Recency
		}
		if opts.Strength != nil {
			edge.Strength = *opts.Strength
		}
	}
	return s.backend.UpsertEdge(ctx, edge)
}

// DeleteNode removes the node and every incident edge. Reports whether a node
// was actually deleted.
func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	return s.backend.DeleteNode(ctx, id)
}

// AgeEdges multiplies the recency of every edge owned by the tenant by the
// given factor and refreshes the derived strengths. The decay schedule itself
// belongs to the external maintenance caller.
func (s *Store) AgeEdges(ctx context.Context, userID string, factor float64) error {
	if factor < 0 {
		factor = 0
	} else if factor > 1 {
		factor = 1
	}
	edges, err := s.backend.EdgesForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if err := ctx.Err(); err != nil {
			return err
		}
		unlock := s.lockEdge(edge.Key())
		current, found, err := s.backend.GetEdge(ctx, edge.SourceID, edge.TargetID, edge.Type)
		if err != nil || !found {
			unlock()
			if err != nil {
				return err
			}
			continue
		}
		current.Recency *= factor
		current.Recompute()
		current.UpdatedAt = s.now()
		err = s.backend.UpsertEdge(ctx, current)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Stats reports per-tenant graph sizes.
type Stats struct {
	Nodes int
	Edges int
}

func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	nodes, edges, err := s.backend.Counts(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Nodes: nodes, Edges: edges}, nil
}
