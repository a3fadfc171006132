package search

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{name: "https cloud URL with REST port", rawURL: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{name: "https cloud URL with gRPC port", rawURL: "https://xyz.cloud.qdrant.io:6334", host: "xyz.cloud.qdrant.io", port: 6334, tls: true},
		{name: "http no port defaults to 6334", rawURL: "http://qdrant.internal", host: "qdrant.internal", port: 6334},
		{name: "custom port preserved", rawURL: "https://qdrant.example.com:9334", host: "qdrant.example.com", port: 9334, tls: true},
		{name: "empty URL", rawURL: "", wantErr: true},
		{name: "no scheme no host", rawURL: "not-a-url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestChunkFromPoint(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"chunk_id":    "seg-12",
		"topic":       "pricing",
		"content":     "We moved to usage-based pricing.",
		"token_count": 7,
	})

	c, ok := chunkFromPoint(qdrant.NewIDNum(99), payload, 0.82)
	require.True(t, ok)
	assert.Equal(t, "seg-12", c.ID, "payload id wins over point id")
	assert.Equal(t, "pricing", c.Topic)
	assert.Equal(t, 7, c.TokenCount)
	assert.InDelta(t, 0.82, c.Similarity, 1e-6)

	delete(payload, "chunk_id")
	c, ok = chunkFromPoint(qdrant.NewIDNum(99), payload, 1.3)
	require.True(t, ok)
	assert.Equal(t, "99", c.ID)
	assert.Equal(t, float32(1), c.Similarity, "score is clamped to [0,1]")

	_, ok = chunkFromPoint(qdrant.NewIDNum(1), qdrant.NewValueMap(map[string]any{"topic": "x"}), 0.5)
	assert.False(t, ok, "points without content are skipped")
}
