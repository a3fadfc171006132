package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ollamaServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = float32(i) * 0.001
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec})
	}))
}

func TestOllamaProvider(t *testing.T) {
	server := ollamaServer(t, 1024)
	defer server.Close()

	p := NewOllamaProvider(server.URL, "test-model", 1024)
	assert.Equal(t, 1024, p.Dimensions())

	vec, err := p.Embed(context.Background(), "product manager enterprise onboarding")
	require.NoError(t, err)
	slice := vec.Slice()
	require.Len(t, slice, 1024)
	assert.Equal(t, float32(0.1), slice[100])
}

func TestOllamaProviderErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewOllamaProvider(server.URL, "m", 1024).Embed(context.Background(), "x")
		assert.ErrorContains(t, err, "status 500")
	})

	t.Run("empty embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{})
		}))
		defer server.Close()

		_, err := NewOllamaProvider(server.URL, "m", 1024).Embed(context.Background(), "x")
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		server := ollamaServer(t, 768)
		defer server.Close()

		_, err := NewOllamaProvider(server.URL, "m", 1024).Embed(context.Background(), "x")
		assert.ErrorContains(t, err, "768 dimensions")
	})
}
