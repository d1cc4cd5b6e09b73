// Package contextmem is the context memory engine for an email-management
// backend: a typed context graph plus a vector memory store, orchestrated by
// an ingestion/recall engine.
package contextmem

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	analyzepkg "github.com/quiethours/contextmem/src/analyze"
	"github.com/quiethours/contextmem/src/config"
	embedpkg "github.com/quiethours/contextmem/src/embed"
	memengine "github.com/quiethours/contextmem/src/engine"
	graphpkg "github.com/quiethours/contextmem/src/graph"
	"github.com/quiethours/contextmem/src/model"
	vectorpkg "github.com/quiethours/contextmem/src/vector"
)

// Type aliases forming the public API.
type (
	Engine        = memengine.Engine
	EngineOptions = memengine.Options
	Entity        = memengine.Entity
	EntityKind    = memengine.EntityKind
	IngestResult  = memengine.IngestResult
	RecallOptions = memengine.RecallOptions
	RecallResult  = memengine.RecallResult
	Stats         = memengine.Stats

	Node     = model.Node
	NodeType = model.NodeType
	Edge     = model.Edge
	EdgeType = model.EdgeType
	Level    = model.Level

	MemoryItem = model.MemoryItem
	ScoredItem = vectorpkg.ScoredItem
	Filters    = vectorpkg.Filters

	GraphStore      = graphpkg.Store
	GraphOptions    = graphpkg.Options
	EdgeOptions     = graphpkg.EdgeOptions
	ReasoningResult = graphpkg.ReasoningResult

	MemoryStore = vectorpkg.MemoryStore
	LocalStore  = vectorpkg.LocalStore

	Embedder = embedpkg.Embedder
	Analyzer = analyzepkg.Analyzer
	Analysis = analyzepkg.Analysis
)

const (
	KindEmail         = memengine.KindEmail
	KindCalendarEvent = memengine.KindCalendarEvent

	LevelLow    = model.LevelLow
	LevelMedium = model.LevelMedium
	LevelHigh   = model.LevelHigh
)

var (
	ErrNotFound           = model.ErrNotFound
	ErrBackendUnavailable = model.ErrBackendUnavailable
	ErrValidation         = model.ErrValidation
	ErrProvider           = model.ErrProvider

	NewEngine        = memengine.New
	NewGraphStore    = graphpkg.NewStore
	OpenGraph        = graphpkg.Open
	NewLocalStore    = vectorpkg.NewLocalStore
	OpenLocalStore   = vectorpkg.OpenLocalStore
	NewPostgresStore = vectorpkg.NewPostgresStore
	NewQdrantStore   = vectorpkg.NewQdrantStore
	NewMongoStore    = vectorpkg.NewMongoStore

	AutoEmbedder     = embedpkg.Auto
	NewDeterministic = embedpkg.NewDeterministic
	WithRetry        = embedpkg.WithRetry
	NewEmbedCache    = embedpkg.NewCache

	NewClaudeAnalyzer = analyzepkg.NewClaudeAnalyzer
)

// Open assembles a full engine from configuration: graph backend selection
// (embedded, Neo4j, or mock mode), the configured vector store, a cached and
// retried embedder, and the analyzer.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	if logger == nil {
		logger = log.Default()
	}

	graphStore := graphpkg.Open(ctx, graphpkg.Options{
		Neo4jURI:      cfg.Neo4j.URI,
		Neo4jUser:     cfg.Neo4j.Username,
		Neo4jPassword: cfg.Neo4j.Password,
		Neo4jDatabase: cfg.Neo4j.Database,
		Logger:        logger,
	})

	memories, err := openMemories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	embedder := openEmbedder(cfg, logger)
	analyzer := openAnalyzer(cfg)

	return memengine.New(memengine.Options{
		Graph:    graphStore,
		Memories: memories,
		Embedder: embedder,
		Analyzer: analyzer,
		Logger:   logger,
	})
}

func openMemories(ctx context.Context, cfg *config.Config) (MemoryStore, error) {
	switch cfg.Vector.Backend {
	case "", "local":
		if cfg.Vector.DataDir != "" {
			return vectorpkg.OpenLocalStore(cfg.Vector.DataDir, cfg.Vector.Dim)
		}
		return vectorpkg.NewLocalStore(cfg.Vector.Dim), nil
	case "postgres":
		return vectorpkg.NewPostgresStore(ctx, cfg.Vector.Postgres.DSN, cfg.Vector.Dim)
	case "qdrant":
		return vectorpkg.NewQdrantStore(ctx, vectorpkg.QdrantConfig{
			Host:       cfg.Vector.Qdrant.Host,
			Port:       cfg.Vector.Qdrant.Port,
			APIKey:     cfg.Vector.Qdrant.APIKey,
			UseTLS:     cfg.Vector.Qdrant.UseTLS,
			Collection: cfg.Vector.Qdrant.Collection,
			Dim:        cfg.Vector.Dim,
		})
	case "mongo":
		return vectorpkg.NewMongoStore(ctx, cfg.Vector.Mongo.URI,
			cfg.Vector.Mongo.Database, cfg.Vector.Mongo.Collection, cfg.Vector.Dim)
	default:
		return nil, fmt.Errorf("%w: unknown vector backend %q", model.ErrValidation, cfg.Vector.Backend)
	}
}

func openEmbedder(cfg *config.Config, logger *log.Logger) Embedder {
	var inner Embedder
	switch cfg.Embed.Provider {
	case "", "deterministic":
		inner = embedpkg.NewDeterministic(cfg.Vector.Dim)
	case "openai":
		if e, err := embedpkg.NewOpenAIEmbedder(cfg.Embed.Model); err == nil {
			inner = e
		}
	case "voyage", "claude", "anthropic":
		if e, err := embedpkg.NewVoyageEmbedder(cfg.Embed.Model); err == nil {
			inner = e
		}
	case "ollama":
		if e, err := embedpkg.NewOllamaEmbedder(cfg.Embed.Model); err == nil {
			inner = e
		}
	case "gemini", "google":
		if e, err := embedpkg.NewGeminiEmbedder(context.Background(), cfg.Embed.Model); err == nil {
			inner = e
		}
	}
	if inner == nil {
		logger.Warn("embed: provider unavailable, using deterministic embedder",
			"provider", cfg.Embed.Provider)
		inner = embedpkg.NewDeterministic(cfg.Vector.Dim)
	}
	ttl, err := time.ParseDuration(cfg.Embed.CacheTTL)
	if err != nil || ttl <= 0 {
		ttl = time.Hour
	}
	return embedpkg.NewCache(embedpkg.WithRetry(inner), 1024, ttl)
}

func openAnalyzer(cfg *config.Config) Analyzer {
	switch cfg.Analyzer.Provider {
	case "claude", "anthropic":
		return analyzepkg.NewClaudeAnalyzer(cfg.Analyzer.Model)
	default:
		return analyzepkg.HeuristicAnalyzer{}
	}
}
