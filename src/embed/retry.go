package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/quiethours/contextmem/src/model"
)

const (
	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond
)

// WithRetry wraps an embedder with bounded retries and exponential backoff.
// Context cancellation stops the retry loop immediately; exhausted attempts
// surface as model.ErrProvider.
func WithRetry(inner Embedder) Embedder {
	return &retryEmbedder{inner: inner, attempts: retryAttempts, backoff: retryBackoff}
}

type retryEmbedder struct {
	inner    Embedder
	attempts int
	backoff  time.Duration
}

func (r *retryEmbedder) Dim() int { return r.inner.Dim() }

func (r *retryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff << (attempt - 1)):
			}
		}
		vec, err := r.inner.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: embedding failed after %d attempts: %v", model.ErrProvider, r.attempts, lastErr)
}
