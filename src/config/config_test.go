package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnvironmentOverridesAndDefaults(t *testing.T) {
	t.Setenv("CONTEXTMEM_VECTOR_BACKEND", "Qdrant")
	t.Setenv("CONTEXTMEM_VECTOR_QDRANT_HOST", "qdrant.internal")
	t.Setenv("CONTEXTMEM_EMBED_PROVIDER", "OLLAMA")
	t.Setenv("CONTEXTMEM_NEO4J_URI", "bolt://graph:7687")

	cfg := Load()

	require.Equal(t, "qdrant", cfg.Vector.Backend, "backend is lowercased")
	require.Equal(t, "qdrant.internal", cfg.Vector.Qdrant.Host)
	require.Equal(t, "ollama", cfg.Embed.Provider)
	require.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)

	require.Equal(t, 768, cfg.Vector.Dim)
	require.Equal(t, 6334, cfg.Vector.Qdrant.Port)
	require.Equal(t, "context_memories", cfg.Vector.Qdrant.Collection)
	require.Equal(t, "heuristic", cfg.Analyzer.Provider)
	require.Equal(t, "1h", cfg.Embed.CacheTTL)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadIsIdempotent(t *testing.T) {
	first := Load()
	second := Load()
	require.Same(t, first, second)
}
