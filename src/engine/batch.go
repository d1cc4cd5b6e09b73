package engine

import (
	"context"

	"github.com/quiethours/contextmem/src/concurrent"
)

// defaultBatchConcurrency bounds how many entities a batch works on at once.
// The analyzer and embedder calls overlap; graph writes for the tenant still
// go through the per-user lock.
const defaultBatchConcurrency = 4

// IngestBatch ingests a backlog of entities for one tenant, bounded-parallel.
// Results line up with the input slice; the first error aborts the batch but
// already-finished entities stay ingested.
func (e *Engine) IngestBatch(ctx context.Context, userID string, entities []Entity, limit int) ([]IngestResult, error) {
	if limit <= 0 {
		limit = defaultBatchConcurrency
	}
	return concurrent.Map(ctx, entities, limit, func(ctx context.Context, entity Entity) (IngestResult, error) {
		return e.Ingest(ctx, userID, entity)
	})
}
