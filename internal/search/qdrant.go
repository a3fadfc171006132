package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/recast/internal/model"
)

// Payload keys written by the ingestion service for each chunk point.
const (
	payloadChunkID    = "chunk_id"
	payloadTopic      = "topic"
	payloadContent    = "content"
	payloadTokenCount = "token_count"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantIndex implements Searcher backed by a Qdrant collection of chunk points.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Pointer[error]
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, gRPC port, and TLS flag from a Qdrant URL.
// The REST port 6333 is mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection verifies the chunk collection exists with the expected
// vector size. Creating and filling it is the ingestion service's job.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("search: qdrant collection %q does not exist", q.collection)
	}

	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: collection info: %w", err)
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil && params.GetSize() != q.dims {
		return fmt.Errorf("search: collection %q has %d dims, embedding provider produces %d",
			q.collection, params.GetSize(), q.dims)
	}
	q.logger.Info("qdrant: collection ready", "collection", q.collection, "dims", q.dims)
	return nil
}

// Search implements Searcher.
func (q *QdrantIndex) Search(ctx context.Context, embedding pgvector.Vector, threshold float64, limit int) ([]model.ContextChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	fetchLimit := uint64(limit) //nolint:gosec // limit is positive
	scoreThreshold := float32(threshold)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding.Slice()),
		ScoreThreshold: &scoreThreshold,
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayloadInclude(payloadChunkID, payloadTopic, payloadContent, payloadTokenCount),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	chunks := make([]model.ContextChunk, 0, len(scored))
	for _, sp := range scored {
		c, ok := chunkFromPoint(sp.GetId(), sp.GetPayload(), sp.GetScore())
		if !ok {
			q.logger.Warn("qdrant: point without chunk id or content", "point", sp.GetId().String())
			continue
		}
		chunks = append(chunks, c)
	}
	return normalize(chunks, limit), nil
}

// chunkFromPoint maps a scored point to a chunk. The chunk_id payload wins
// over the point ID, which is used only when the payload lacks one.
func chunkFromPoint(id *qdrant.PointId, payload map[string]*qdrant.Value, score float32) (model.ContextChunk, bool) {
	c := model.ContextChunk{
		ID:         payload[payloadChunkID].GetStringValue(),
		Topic:      payload[payloadTopic].GetStringValue(),
		Content:    payload[payloadContent].GetStringValue(),
		TokenCount: int(payload[payloadTokenCount].GetIntegerValue()),
		Similarity: min(max(score, 0), 1),
	}
	if c.ID == "" {
		if u := id.GetUuid(); u != "" {
			c.ID = u
		} else if id != nil && id.GetNum() != 0 {
			c.ID = strconv.FormatUint(id.GetNum(), 10)
		}
	}
	return c, c.ID != "" && c.Content != ""
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// and concurrent checks share one gRPC call.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// The first caller's context would be shared by every waiter, so the
	// check runs on its own.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()

		var checkErr error
		if _, err := q.client.HealthCheck(checkCtx); err != nil {
			checkErr = fmt.Errorf("search: qdrant unhealthy: %w", err)
		}
		q.healthErr.Store(&checkErr)
		q.healthAt.Store(time.Now().UnixNano())
		return checkErr, nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

func (q *QdrantIndex) loadHealthErr() error {
	if p := q.healthErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
