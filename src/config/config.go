// Package config centralizes runtime configuration for the context memory
// engine. Values come from the environment, with viper supplying defaults and
// optional config-file overrides.
package config

import (
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// Graph database (Neo4j). An empty URI selects the embedded backend.
	Neo4j struct {
		URI      string
		Username string
		Password string
		Database string
	}

	// Vector store selection: local | postgres | qdrant | mongo.
	Vector struct {
		Backend  string
		DataDir  string
		Dim      int
		Postgres struct {
			DSN string
		}
		Qdrant struct {
			Host       string
			Port       int
			APIKey     string
			UseTLS     bool
			Collection string
		}
		Mongo struct {
			URI        string
			Database   string
			Collection string
		}
	}

	// Embedding provider: deterministic | openai | voyage | ollama | gemini.
	Embed struct {
		Provider string
		Model    string
		CacheTTL string
	}

	// Analyzer provider: heuristic | claude.
	Analyzer struct {
		Provider string
		Model    string
	}

	Log struct {
		Level string
	}
}

var (
	once sync.Once
	cfg  *Config
)

// Load reads the configuration once per process. Environment variables use
// the CONTEXTMEM_ prefix with underscores (CONTEXTMEM_NEO4J_URI etc.); an
// optional contextmem.yaml in the working directory fills the rest.
func Load() *Config {
	once.Do(func() {
		v := viper.New()
		v.SetEnvPrefix("contextmem")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		v.SetConfigName("contextmem")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional

		v.SetDefault("vector.backend", "local")
		v.SetDefault("vector.datadir", "")
		v.SetDefault("vector.dim", 768)
		v.SetDefault("vector.qdrant.host", "localhost")
		v.SetDefault("vector.qdrant.port", 6334)
		v.SetDefault("vector.qdrant.collection", "context_memories")
		v.SetDefault("vector.mongo.database", "contextmem")
		v.SetDefault("vector.mongo.collection", "memories")
		v.SetDefault("embed.provider", "deterministic")
		v.SetDefault("embed.cachettl", "1h")
		v.SetDefault("analyzer.provider", "heuristic")
		v.SetDefault("log.level", "info")

		cfg = &Config{}
		cfg.Neo4j.URI = v.GetString("neo4j.uri")
		cfg.Neo4j.Username = v.GetString("neo4j.username")
		cfg.Neo4j.Password = v.GetString("neo4j.password")
		cfg.Neo4j.Database = v.GetString("neo4j.database")

		cfg.Vector.Backend = strings.ToLower(v.GetString("vector.backend"))
		cfg.Vector.DataDir = v.GetString("vector.datadir")
		cfg.Vector.Dim = v.GetInt("vector.dim")
		cfg.Vector.Postgres.DSN = v.GetString("vector.postgres.dsn")
		cfg.Vector.Qdrant.Host = v.GetString("vector.qdrant.host")
		cfg.Vector.Qdrant.Port = v.GetInt("vector.qdrant.port")
		cfg.Vector.Qdrant.APIKey = v.GetString("vector.qdrant.apikey")
		cfg.Vector.Qdrant.UseTLS = v.GetBool("vector.qdrant.usetls")
		cfg.Vector.Qdrant.Collection = v.GetString("vector.qdrant.collection")
		cfg.Vector.Mongo.URI = v.GetString("vector.mongo.uri")
		cfg.Vector.Mongo.Database = v.GetString("vector.mongo.database")
		cfg.Vector.Mongo.Collection = v.GetString("vector.mongo.collection")

		cfg.Embed.Provider = strings.ToLower(v.GetString("embed.provider"))
		cfg.Embed.Model = v.GetString("embed.model")
		cfg.Embed.CacheTTL = v.GetString("embed.cachettl")

		cfg.Analyzer.Provider = strings.ToLower(v.GetString("analyzer.provider"))
		cfg.Analyzer.Model = v.GetString("analyzer.model")

		cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	})
	return cfg
}
