// Package embed turns text into vectors. Providers are pluggable; the
// deterministic embedder keeps the rest of the system fully functional with
// no API key configured.
package embed

import (
	"context"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// DefaultDim is the dimension of the deterministic embedder.
const DefaultDim = 768

// maxInputBytes caps provider input; longer texts are truncated, never
// rejected.
const maxInputBytes = 8192

func truncate(text string) string {
	if len(text) <= maxInputBytes {
		return text
	}
	return text[:maxInputBytes]
}

// Deterministic folds the text's bytes into a fixed-size vector and
// normalizes it. Equal texts always embed equally, which is what tests and
// offline runs need.
type Deterministic struct {
	dim int
}

func NewDeterministic(dim int) Deterministic {
	if dim <= 0 {
		dim = DefaultDim
	}
	return Deterministic{dim: dim}
}

func (d Deterministic) Dim() int { return d.dim }

func (d Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dim)
	for i, ch := range []byte(truncate(text)) {
		vec[(i*31+int(ch))%d.dim] += float32(ch) / 255.0
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Auto chooses a provider from the environment:
// CONTEXTMEM_EMBED_PROVIDER=openai|voyage|ollama|gemini
// CONTEXTMEM_EMBED_MODEL=<model string>
// Anything else, or a provider that fails to construct, falls back to the
// deterministic embedder.
func Auto(logger *log.Logger) Embedder {
	if logger == nil {
		logger = log.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("CONTEXTMEM_EMBED_PROVIDER")))
	modelName := strings.TrimSpace(os.Getenv("CONTEXTMEM_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(modelName); err == nil {
			return e
		}
	case "voyage", "claude", "anthropic":
		if e, err := NewVoyageEmbedder(modelName); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(modelName); err == nil {
			return e
		}
	case "gemini", "google":
		if e, err := NewGeminiEmbedder(context.Background(), modelName); err == nil {
			return e
		}
	}

	logger.Debug("embed: using deterministic embedder", "provider", provider)
	return NewDeterministic(DefaultDim)
}
