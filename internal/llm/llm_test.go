package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ---- CleanJSONBlock --------------------------------------------------------

func TestCleanJSONBlock(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n[{\"title\":\"x\"}]\n```", want: `[{"title":"x"}]`},
		{in: "  ```{\"a\":1}```  ", want: `{"a":1}`},
		{in: "plain text", want: "plain text"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanJSONBlock(tc.in), "input %q", tc.in)
	}
}

// ---- StatusError -----------------------------------------------------------

func TestStatusErrorTemporary(t *testing.T) {
	for code, want := range map[int]bool{400: false, 401: false, 408: true, 429: true, 500: true, 503: true} {
		e := &StatusError{Provider: "x", StatusCode: code, Err: errors.New("boom")}
		assert.Equal(t, want, e.Temporary(), "status %d", code)
	}
	inner := errors.New("inner")
	assert.ErrorIs(t, &StatusError{Err: inner}, inner)
}

func TestGeminiStatus(t *testing.T) {
	assert.Equal(t, 429, geminiStatus(status.Error(codes.ResourceExhausted, "quota")))
	assert.Equal(t, 503, geminiStatus(status.Error(codes.Unavailable, "down")))
	assert.Equal(t, 0, geminiStatus(errors.New("plain")))
}

// ---- OpenAIClient ----------------------------------------------------------

func TestOpenAIClientComplete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  ALLOWED \n"}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", time.Second, option.WithBaseURL(server.URL))
	out, err := c.Complete(context.Background(), "sys", "usr", Options{Temperature: 0, MaxTokens: 100, JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, "ALLOWED", out)

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	assert.EqualValues(t, 100, got["max_tokens"])
}

func TestOpenAIClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", time.Second, option.WithBaseURL(server.URL))
	_, err := c.Complete(context.Background(), "sys", "usr", Options{})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, se.Temporary())
}

// ---- OllamaClient ----------------------------------------------------------

func TestOllamaClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		assert.InDelta(t, 0.4, req.Options.Temperature, 1e-9)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": `{"ok":true}`}})
	}))
	defer server.Close()

	out, err := NewOllamaClient(server.URL, "m", time.Second).
		Complete(context.Background(), "sys", "usr", Options{Temperature: 0.4, JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOllamaClientErrors(t *testing.T) {
	t.Run("server error is a StatusError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewOllamaClient(server.URL, "m", time.Second).Complete(context.Background(), "s", "u", Options{})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 503, se.StatusCode)
	})

	t.Run("empty content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"message":{"content":"   "}}`))
		}))
		defer server.Close()

		_, err := NewOllamaClient(server.URL, "m", time.Second).Complete(context.Background(), "s", "u", Options{})
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer server.Close()
		defer close(release)

		_, err := NewOllamaClient(server.URL, "m", 50*time.Millisecond).Complete(context.Background(), "s", "u", Options{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// ---- New -------------------------------------------------------------------

func TestNewSelectsBackend(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	c, closeFn, err := New(context.Background(), Settings{Provider: "ollama"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, c)
	assert.NoError(t, closeFn())

	_, _, err = New(context.Background(), Settings{Provider: "openai"}, logger)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, _, err = New(context.Background(), Settings{Provider: "gemini"}, logger)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	_, _, err = New(context.Background(), Settings{Provider: "palm"}, logger)
	assert.Error(t, err)
}

// ---- IsTransient -----------------------------------------------------------

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{Provider: "openai", StatusCode: 429}, true},
		{"server error", &StatusError{Provider: "gemini", StatusCode: 500}, true},
		{"unauthorized", &StatusError{Provider: "openai", StatusCode: 401}, false},
		{"wrapped forbidden", errors.Join(errors.New("plan"), &StatusError{StatusCode: 403, Err: errors.New("service unavailable")}), false},
		{"deadline", context.DeadlineExceeded, true},
		{"grpc unavailable", status.Error(codes.Unavailable, "qdrant down"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad vector"), false},
		{"ollama 502 text", errors.New("embedding: ollama: status 502: upstream"), true},
		{"ollama 401 text", errors.New("embedding: ollama: status 401: denied"), false},
		{"plain", errors.New("bad dimensions"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsTransient(tc.err), tc.name)
	}
}
