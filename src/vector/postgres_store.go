package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiethours/contextmem/src/model"
)

// PostgresStore persists memories in a relational table with the embedding
// stored as float4[]. Tenant and attribute filtering run in SQL; the cosine
// ranking runs here over the filtered rows.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

var _ MemoryStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS context_memories (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	embedding     REAL[] NOT NULL,
	metadata      JSONB NOT NULL DEFAULT '{}',
	importance    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	last_accessed TIMESTAMPTZ,
	access_count  INTEGER NOT NULL DEFAULT 0,
	expiry        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS context_memories_user_idx ON context_memories (user_id);
CREATE INDEX IF NOT EXISTS context_memories_created_idx ON context_memories (user_id, created_at DESC);
`

// NewPostgresStore connects a pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres ping: %v", model.ErrBackendUnavailable, err)
	}
	s := &PostgresStore{pool: pool, dim: dim}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, userID string, item model.MemoryItem) (string, error) {
	item = item.Clone()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["user_id"] = userID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := item.Validate(s.dim); err != nil {
		return "", err
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO context_memories
			(id, user_id, content, embedding, metadata, importance, created_at, last_accessed, access_count, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			importance = EXCLUDED.importance,
			expiry = EXCLUDED.expiry`,
		item.ID, userID, item.Text, item.Embedding, metadata,
		item.Importance, item.CreatedAt, item.LastAccessed, item.AccessCount, item.Expiry)
	if err != nil {
		return "", fmt.Errorf("%w: postgres insert: %v", model.ErrProvider, err)
	}
	return item.ID, nil
}

func (s *PostgresStore) Search(ctx context.Context, userID string, queryEmbedding []float32, limit int, filters *Filters) ([]ScoredItem, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	now := time.Now().UTC()
	query := `
		SELECT id, user_id, content, embedding, metadata, importance, created_at, last_accessed, access_count, expiry
		FROM context_memories
		WHERE user_id = $1 AND (expiry IS NULL OR expiry > $2)`
	args := []any{userID, now}
	if filters != nil {
		if filters.Type != "" {
			args = append(args, filters.Type)
			query += fmt.Sprintf(" AND metadata->>'type' = $%d", len(args))
		}
		if filters.MinImportance > 0 {
			args = append(args, filters.MinImportance)
			query += fmt.Sprintf(" AND importance >= $%d", len(args))
		}
		if !filters.After.IsZero() {
			args = append(args, filters.After)
			query += fmt.Sprintf(" AND created_at >= $%d", len(args))
		}
		if !filters.Before.IsZero() {
			args = append(args, filters.Before)
			query += fmt.Sprintf(" AND created_at <= $%d", len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	var scored []ScoredItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		scored = append(scored, ScoredItem{
			Item:  item,
			Score: model.CosineSimilarity(queryEmbedding, item.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Item.CreatedAt.Equal(scored[j].Item.CreatedAt) {
			return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	for i := range scored {
		ts := now
		scored[i].Item.LastAccessed = &ts
		scored[i].Item.AccessCount++
		_, err := s.pool.Exec(ctx, `
			UPDATE context_memories SET last_accessed = $1, access_count = access_count + 1
			WHERE id = $2 AND user_id = $3`, now, scored[i].Item.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("postgres access update: %w", err)
		}
	}
	return scored, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, id string) (model.MemoryItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, content, embedding, metadata, importance, created_at, last_accessed, access_count, expiry
		FROM context_memories WHERE id = $1 AND user_id = $2`, id, userID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.MemoryItem{}, fmt.Errorf("memory %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.MemoryItem{}, err
	}
	// Access bookkeeping is a best-effort hint.
	now := time.Now().UTC()
	_, _ = s.pool.Exec(ctx, `
		UPDATE context_memories SET last_accessed = $1, access_count = access_count + 1
		WHERE id = $2 AND user_id = $3`, now, id, userID)
	item.LastAccessed = &now
	item.AccessCount++
	return item, nil
}

// UpdateMetadata merges a patch into the stored JSONB metadata server-side.
func (s *PostgresStore) UpdateMetadata(ctx context.Context, userID, id string, patch map[string]any) (bool, error) {
	item, err := s.Get(ctx, userID, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	merged, err := json.Marshal(applyPatch(item.Metadata, patch))
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE context_memories SET metadata = $1
		WHERE id = $2 AND user_id = $3`, merged, id, userID)
	if err != nil {
		return false, fmt.Errorf("postgres metadata update: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM context_memories WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Iterate(ctx context.Context, userID string, fn func(model.MemoryItem) bool) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, content, embedding, metadata, importance, created_at, last_accessed, access_count, expiry
		FROM context_memories WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return fmt.Errorf("postgres iterate: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return err
		}
		if !fn(item) {
			return nil
		}
	}
	return rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM context_memories WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanItem(row pgx.Row) (model.MemoryItem, error) {
	var (
		item     model.MemoryItem
		ownerID  string
		metadata []byte
	)
	err := row.Scan(&item.ID, &ownerID, &item.Text, &item.Embedding, &metadata,
		&item.Importance, &item.CreatedAt, &item.LastAccessed, &item.AccessCount, &item.Expiry)
	if err != nil {
		return model.MemoryItem{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return model.MemoryItem{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}
	item.Metadata["user_id"] = ownerID
	return item, nil
}
