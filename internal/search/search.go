// Package search provides similarity search over transcript chunks, backed
// either by pgvector in Postgres or by an external Qdrant collection.
package search

import (
	"context"
	"fmt"
	"slices"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/recast/internal/model"
)

// Searcher finds transcript chunks similar to a query embedding.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// Search returns at most limit chunks with similarity >= threshold,
	// ordered by similarity descending. No two results share an ID.
	Search(ctx context.Context, embedding pgvector.Vector, threshold float64, limit int) ([]model.ContextChunk, error)

	// Healthy returns nil if the backend is reachable.
	Healthy(ctx context.Context) error
}

// ChunkStore is the subset of storage.DB used by the Postgres searcher.
type ChunkStore interface {
	SearchChunks(ctx context.Context, embedding pgvector.Vector, threshold float64, limit int) ([]model.ContextChunk, error)
	Ping(ctx context.Context) error
}

// Postgres implements Searcher with pgvector.
type Postgres struct {
	store ChunkStore
}

// NewPostgres returns a Searcher backed by the transcript_chunks table.
func NewPostgres(store ChunkStore) *Postgres {
	return &Postgres{store: store}
}

// Search implements Searcher.
func (p *Postgres) Search(ctx context.Context, embedding pgvector.Vector, threshold float64, limit int) ([]model.ContextChunk, error) {
	chunks, err := p.store.SearchChunks(ctx, embedding, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search: postgres: %w", err)
	}
	return normalize(chunks, limit), nil
}

// Healthy implements Searcher.
func (p *Postgres) Healthy(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// normalize drops duplicate IDs (keeping the first, most similar occurrence),
// orders by similarity descending with ties in input order, and truncates.
func normalize(chunks []model.ContextChunk, limit int) []model.ContextChunk {
	seen := make(map[string]bool, len(chunks))
	out := make([]model.ContextChunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b model.ContextChunk) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
