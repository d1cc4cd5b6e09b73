// Package engine orchestrates the context memory: it analyzes incoming
// entities, writes them into the graph and vector stores, and answers
// composite recall queries over both.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/quiethours/contextmem/src/analyze"
	"github.com/quiethours/contextmem/src/concurrent"
	"github.com/quiethours/contextmem/src/embed"
	"github.com/quiethours/contextmem/src/graph"
	"github.com/quiethours/contextmem/src/model"
	"github.com/quiethours/contextmem/src/vector"
)

// EntityKind selects the ingestion mapping.
type EntityKind string

const (
	KindEmail         EntityKind = "email"
	KindCalendarEvent EntityKind = "calendar_event"
)

// Entity is a new fact handed over by the application layer.
type Entity struct {
	Kind         EntityKind
	Subject      string
	Text         string
	Sender       string
	Participants []string
	StartsAt     time.Time
	EndsAt       time.Time
	Location     string
}

// IngestResult reports what one ingest call created.
type IngestResult struct {
	NodeID          string
	TaskIDs         []string
	RelationshipIDs []string
	MemoryID        string
	Analysis        analyze.Analysis
}

// Options wires an Engine together.
type Options struct {
	Graph    *graph.Store
	Memories vector.MemoryStore
	Embedder embed.Embedder
	Analyzer analyze.Analyzer
	Logger   *log.Logger
}

// Engine is the orchestrator over both stores. Writes for one tenant are
// serialized through a per-user lock so concurrent ingests never lose
// relationship counts or emotion-window updates; tenants proceed in parallel.
type Engine struct {
	graph     *graph.Store
	memories  vector.MemoryStore
	embedder  embed.Embedder
	analyzer  analyze.Analyzer
	logger    *log.Logger
	nowFn     func() time.Time
	userLocks *concurrent.KeyedLocks
}

func New(opts Options) (*Engine, error) {
	if opts.Graph == nil {
		return nil, errors.New("engine: graph store is required")
	}
	if opts.Memories == nil {
		return nil, errors.New("engine: memory store is required")
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder = embed.NewDeterministic(embed.DefaultDim)
	}
	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = analyze.HeuristicAnalyzer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		graph:     opts.Graph,
		memories:  opts.Memories,
		embedder:  embedder,
		analyzer:  analyzer,
		logger:    logger,
		nowFn:     time.Now,
		userLocks: concurrent.NewKeyedLocks(),
	}, nil
}

// lockUser serializes graph writers of one tenant.
func (e *Engine) lockUser(userID string) func() {
	return e.userLocks.Acquire(userID)
}

// relationshipNamespace seeds the deterministic contact node ids, so the same
// address always maps to the same Relationship node within a tenant.
var relationshipNamespace = uuid.NameSpaceOID

// RelationshipID derives the stable node id for a tenant's contact.
func RelationshipID(userID, address string) string {
	return uuid.NewSHA1(relationshipNamespace,
		[]byte(userID+"|"+strings.ToLower(strings.TrimSpace(address)))).String()
}

// EmotionStateID is the singleton-per-tenant emotion node id.
func EmotionStateID(userID string) string {
	return "emotion-state-" + userID
}

// Ingest analyzes one entity and fans the result out into both stores. The
// analyzer is consulted exactly once; if it fails, ingestion logs the error
// and continues with medium/medium defaults rather than dropping the entity.
func (e *Engine) Ingest(ctx context.Context, userID string, entity Entity) (IngestResult, error) {
	if userID == "" {
		return IngestResult{}, fmt.Errorf("%w: ingest requires a user id", model.ErrValidation)
	}
	if entity.Kind != KindEmail && entity.Kind != KindCalendarEvent {
		return IngestResult{}, fmt.Errorf("%w: unknown entity kind %q", model.ErrValidation, entity.Kind)
	}

	analysis, err := e.analyzer.Analyze(ctx, entity.Text, map[string]any{
		"kind":    string(entity.Kind),
		"subject": entity.Subject,
		"sender":  entity.Sender,
	})
	if err != nil {
		e.logger.Warn("engine: analyzer failed, continuing with defaults", "err", err)
		analysis = analyze.DefaultAnalysis()
	}
	analysis.Normalize()

	unlock := e.lockUser(userID)
	defer unlock()

	now := e.nowFn().UTC()
	node := model.Node{
		UserID:     userID,
		Confidence: 1.0,
		Source:     string(entity.Kind),
	}
	// Analyzer keys outside the fixed schema ride along on the node; the
	// typed attrs win on collision.
	extras := model.CloneProperties(analysis.Extra)
	switch entity.Kind {
	case KindEmail:
		node.Type = model.NodeEmail
		node.Properties = model.EmailAttrs{
			Subject:        entity.Subject,
			Sender:         entity.Sender,
			Summary:        analysis.Summary,
			StressLevel:    analysis.StressLevel,
			Priority:       analysis.Priority,
			SentimentScore: analysis.SentimentScore,
			EmotionalTone:  analysis.EmotionalTone,
			ReceivedAt:     now,
		}.ToProperties(extras)
	case KindCalendarEvent:
		node.Type = model.NodeCalendarEvent
		node.Properties = model.EventAttrs{
			Title:       entity.Subject,
			Organizer:   entity.Sender,
			Summary:     analysis.Summary,
			StressLevel: analysis.StressLevel,
			Priority:    analysis.Priority,
			StartsAt:    entity.StartsAt,
			EndsAt:      entity.EndsAt,
			Location:    entity.Location,
		}.ToProperties(extras)
	}

	nodeID, err := e.graph.UpsertNode(ctx, node)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: create node: %w", err)
	}
	result := IngestResult{NodeID: nodeID, Analysis: analysis}

	contacts := entity.Participants
	if entity.Sender != "" {
		contacts = append([]string{entity.Sender}, contacts...)
	}
	edgeType := model.EdgeSentTo
	if entity.Kind == KindCalendarEvent {
		edgeType = model.EdgeScheduledFor
	}
	for _, address := range contacts {
		relID, err := e.ensureRelationship(ctx, userID, address, now)
		if err != nil {
			return result, err
		}
		if relID == "" {
			continue
		}
		if err := e.graph.CreateEdge(ctx, nodeID, relID, edgeType, nil); err != nil {
			return result, fmt.Errorf("ingest: contact edge: %w", err)
		}
		result.RelationshipIDs = append(result.RelationshipIDs, relID)
	}

	for _, item := range analysis.ActionItems {
		taskID, err := e.graph.UpsertNode(ctx, model.Node{
			Type:       model.NodeTask,
			UserID:     userID,
			Confidence: 1.0,
			Source:     string(entity.Kind),
			Properties: model.TaskAttrs{
				Description: item,
				SourceID:    nodeID,
				Priority:    analysis.Priority,
			}.ToProperties(nil),
		})
		if err != nil {
			return result, fmt.Errorf("ingest: task node: %w", err)
		}
		if err := e.graph.CreateEdge(ctx, taskID, nodeID, model.EdgePartOf, nil); err != nil {
			return result, fmt.Errorf("ingest: task edge: %w", err)
		}
		result.TaskIDs = append(result.TaskIDs, taskID)
	}

	if err := e.updateEmotionState(ctx, userID, analysis.StressLevel); err != nil {
		return result, fmt.Errorf("ingest: emotion state: %w", err)
	}

	memoryID, err := e.mirrorToMemory(ctx, userID, nodeID, entity, analysis, now)
	if err != nil {
		return result, err
	}
	result.MemoryID = memoryID

	e.logger.Debug("engine: ingested entity",
		"user", userID, "kind", entity.Kind, "node", nodeID,
		"tasks", len(result.TaskIDs), "stress", analysis.StressLevel)
	return result, nil
}

// ensureRelationship creates the contact node on first sight and bumps its
// interaction bookkeeping afterwards.
func (e *Engine) ensureRelationship(ctx context.Context, userID, address string, now time.Time) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", nil
	}
	relID := RelationshipID(userID, address)
	attrs := model.RelationshipAttrs{Address: strings.ToLower(address), InteractionCount: 1, LastContact: now}
	if existing, err := e.graph.GetNode(ctx, relID); err == nil {
		attrs = model.RelationshipAttrsFromProperties(existing.Properties)
		attrs.InteractionCount++
		attrs.LastContact = now
	} else if !errors.Is(err, model.ErrNotFound) {
		return "", fmt.Errorf("ingest: contact lookup: %w", err)
	}
	_, err := e.graph.UpsertNode(ctx, model.Node{
		ID:         relID,
		Type:       model.NodeRelationship,
		UserID:     userID,
		Confidence: 1.0,
		Source:     "contact",
		Properties: attrs.ToProperties(nil),
	})
	if err != nil {
		return "", fmt.Errorf("ingest: contact node: %w", err)
	}
	return relID, nil
}

func (e *Engine) mirrorToMemory(ctx context.Context, userID, nodeID string, entity Entity, analysis analyze.Analysis, now time.Time) (string, error) {
	text := entity.Text
	if entity.Subject != "" {
		text = entity.Subject + "\n" + text
	}
	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("ingest: embed: %w", err)
	}
	item := model.MemoryItem{
		Text:      text,
		Embedding: embedding,
		Metadata: map[string]any{
			"type":         string(entity.Kind),
			"node_id":      nodeID,
			"subject":      entity.Subject,
			"sender":       entity.Sender,
			"stress_level": string(analysis.StressLevel),
			"priority":     string(analysis.Priority),
		},
		Importance: float64(analysis.Priority.Rank()) * 0.3,
		CreatedAt:  now,
	}
	memoryID, err := e.memories.Store(ctx, userID, item)
	if err != nil {
		return "", fmt.Errorf("ingest: mirror memory: %w", err)
	}
	return memoryID, nil
}
