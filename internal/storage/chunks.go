package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/recast/internal/model"
)

// SearchChunks returns transcript chunks whose cosine similarity to the
// embedding is at least threshold, most similar first.
func (db *DB) SearchChunks(ctx context.Context, embedding pgvector.Vector, threshold float64, limit int) ([]model.ContextChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, topic, content, token_count, 1 - (embedding <=> $1) AS similarity
		 FROM transcript_chunks
		 WHERE 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		embedding, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: search chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.ContextChunk
	for rows.Next() {
		var (
			c   model.ContextChunk
			sim float64
		)
		if err := rows.Scan(&c.ID, &c.Topic, &c.Content, &c.TokenCount, &sim); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		c.Similarity = float32(sim)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
