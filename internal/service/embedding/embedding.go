// Package embedding turns query text into vectors for similarity search.
//
// Both providers must produce vectors of the deployment's configured
// dimensionality; a mismatch is an error rather than a silent truncation.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// Settings selects and configures a provider.
type Settings struct {
	Provider     string // "auto", "openai", or "ollama"
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	Dimensions   int
	Timeout      time.Duration
}

// ErrNoProvider is returned when auto-detection finds neither a reachable
// Ollama server nor an OpenAI key.
var ErrNoProvider = errors.New("embedding: no provider available")

// New builds the configured provider. In auto mode a reachable Ollama server
// is preferred, then OpenAI when a key is present.
func New(ctx context.Context, s Settings, logger *slog.Logger) (Provider, error) {
	switch s.Provider {
	case "openai":
		if s.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("embedding: OPENAI_API_KEY required for the openai provider")
		}
		logger.Info("embedding provider: openai", "model", s.OpenAIModel, "dimensions", s.Dimensions)
		return NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIModel, s.Dimensions, s.Timeout), nil

	case "ollama":
		logger.Info("embedding provider: ollama", "url", s.OllamaURL, "model", s.OllamaModel, "dimensions", s.Dimensions)
		return NewOllamaProvider(s.OllamaURL, s.OllamaModel, s.Dimensions), nil

	case "auto", "":
		if ollamaReachable(ctx, s.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", s.OllamaURL, "model", s.OllamaModel)
			return NewOllamaProvider(s.OllamaURL, s.OllamaModel, s.Dimensions), nil
		}
		if s.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", s.OpenAIModel)
			return NewOpenAIProvider(s.OpenAIAPIKey, s.OpenAIModel, s.Dimensions, s.Timeout), nil
		}
		return nil, ErrNoProvider

	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", s.Provider)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func checkDims(provider string, got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("embedding: %s returned %d dimensions, expected %d", provider, got, want)
	}
	return nil
}
