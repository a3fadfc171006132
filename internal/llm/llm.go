// Package llm provides the completion clients used by the guardrail and the
// generation stages. Every backend satisfies Client; provider HTTP failures
// surface as *StatusError so callers can tell rate limits and outages from
// permanent rejections.
package llm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Client performs one chat completion.
type Client interface {
	Complete(ctx context.Context, system, user string, opts Options) (string, error)
}

// Options tune a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool // ask the provider for a bare JSON object
}

// StatusError is a provider response with a non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Temporary reports whether the status indicates a rate limit, timeout, or
// server-side failure.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// CleanJSONBlock removes a surrounding markdown code fence, if any.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		text = text[nl+1:] // language tag line, e.g. ```json
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// Settings selects and configures a backend.
type Settings struct {
	Provider     string // "openai", "gemini", or "ollama"
	Model        string
	OpenAIAPIKey string
	GeminiAPIKey string
	OllamaURL    string
	Timeout      time.Duration // per call
}

// Default chat models per provider when none is configured.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-1.5-flash"
	defaultOllamaModel = "qwen2.5:7b"
)

// New builds the configured client. The returned close function releases
// provider connections and is never nil.
func New(ctx context.Context, s Settings, logger *slog.Logger) (Client, func() error, error) {
	noop := func() error { return nil }
	switch s.Provider {
	case "openai":
		if s.OpenAIAPIKey == "" {
			return nil, noop, fmt.Errorf("llm: OPENAI_API_KEY required for the openai provider")
		}
		model := cmp.Or(s.Model, defaultOpenAIModel)
		logger.Info("llm provider: openai", "model", model)
		return NewOpenAIClient(s.OpenAIAPIKey, model, s.Timeout), noop, nil

	case "gemini":
		if s.GeminiAPIKey == "" {
			return nil, noop, fmt.Errorf("llm: GEMINI_API_KEY required for the gemini provider")
		}
		model := cmp.Or(s.Model, defaultGeminiModel)
		c, err := NewGeminiClient(ctx, s.GeminiAPIKey, model, s.Timeout)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("llm provider: gemini", "model", model)
		return c, c.Close, nil

	case "ollama":
		model := cmp.Or(s.Model, defaultOllamaModel)
		logger.Info("llm provider: ollama", "url", s.OllamaURL, "model", model)
		return NewOllamaClient(s.OllamaURL, model, s.Timeout), noop, nil

	default:
		return nil, noop, fmt.Errorf("llm: unknown provider %q", s.Provider)
	}
}

// withTimeout bounds one provider call. A zero timeout leaves ctx unchanged.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
