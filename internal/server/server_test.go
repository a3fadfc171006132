package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/ratelimit"
	"github.com/ashita-ai/recast/internal/storage"
)

// ---- fakes -----------------------------------------------------------------

type fakeRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]model.GenerationRun
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (model.GenerationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return model.GenerationRun{}, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeRuns) finish(id uuid.UUID, to model.RunStatus, msg string) (model.GenerationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return model.GenerationRun{}, storage.ErrNotFound
	}
	if r.Status != model.RunStatusRendering {
		return model.GenerationRun{}, storage.ErrInvalidTransition
	}
	r.Status = to
	r.ErrorMessage = msg
	f.runs[id] = r
	return r, nil
}

func (f *fakeRuns) CompleteRendering(_ context.Context, id uuid.UUID) (model.GenerationRun, error) {
	return f.finish(id, model.RunStatusCompleted, "")
}

func (f *fakeRuns) FailRendering(_ context.Context, id uuid.UUID, message string) (model.GenerationRun, error) {
	return f.finish(id, model.RunStatusFailed, message)
}

type fakeStarter struct {
	err     error
	started []uuid.UUID
}

func (f *fakeStarter) StartRun(_ context.Context, id uuid.UUID) (*pipeline.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, id)
	return &pipeline.Handle{ID: uuid.New(), RunID: id}, nil
}
func (f *fakeStarter) QueueDepth() int { return 2 }
func (f *fakeStarter) InFlight() int   { return 1 }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error    { return f.err }
func (f fakePinger) Healthy(context.Context) error { return f.err }

type staticGate bool

func (g staticGate) Enabled(context.Context) bool { return bool(g) }

type testEnv struct {
	runs    *fakeRuns
	starter *fakeStarter
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		runs:    &fakeRuns{runs: make(map[uuid.UUID]model.GenerationRun)},
		starter: &fakeStarter{},
	}
	cfg := ServerConfig{
		Runs:                env.runs,
		Renderer:            env.runs,
		Starter:             env.starter,
		DB:                  fakePinger{},
		Gate:                staticGate(true),
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:             "test",
		MaxRequestBodyBytes: 1024,
		OpenAPISpec:         []byte("openapi: 3.1.0\n"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.handler = New(cfg).Handler()
	return env
}

func (e *testEnv) addRun(status model.RunStatus) uuid.UUID {
	id := uuid.New()
	e.runs.runs[id] = model.GenerationRun{ID: id, RequesterID: "user-1", Format: model.FormatVideo, Status: status}
	return id
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T                  `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.NotEmpty(t, env.Meta.RequestID)
	return env.Data
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error
}

// ---- start -----------------------------------------------------------------

func TestStartRun_Accepted(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addRun(model.RunStatusQueued)

	rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeData[model.StartRunResponse](t, rec)
	assert.Equal(t, id, resp.RunID)
	assert.NotEqual(t, uuid.Nil, resp.HandleID)
	assert.Equal(t, model.RunStatusQueued, resp.Status)
	assert.Equal(t, []uuid.UUID{id}, env.starter.started)
}

func TestStartRun_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	processing := env.addRun(model.RunStatusProcessing)

	rec := env.do(http.MethodPost, "/v1/runs/not-a-uuid/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/runs/"+uuid.NewString()+"/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeErr(t, rec).Code)

	rec = env.do(http.MethodPost, "/v1/runs/"+processing.String()+"/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeErr(t, rec).Message, "processing")
	assert.Empty(t, env.starter.started)
}

func TestStartRun_Unavailable(t *testing.T) {
	cases := map[string]struct {
		err        error
		retryAfter string
	}{
		"disabled":   {err: pipeline.ErrGenerationDisabled},
		"queue full": {err: pipeline.ErrQueueFull, retryAfter: queueFullRetryAfter},
		"draining":   {err: pipeline.ErrDispatcherClosed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.starter.err = tc.err
			id := env.addRun(model.RunStatusQueued)

			rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/start", "")
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			assert.Equal(t, model.ErrCodeUnavailable, decodeErr(t, rec).Code)
		})
	}
}

func TestStartRun_UnexpectedError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.starter.err = errors.New("boom")
	id := env.addRun(model.RunStatusQueued)

	rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/start", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartRun_RateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = limiter.Close() }()
	env := newTestEnv(t, func(c *ServerConfig) { c.Limiter = limiter })
	id := env.addRun(model.RunStatusQueued)

	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/v1/runs/"+id.String()+"/start", "").Code)
	rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/start", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, model.ErrCodeRateLimited, decodeErr(t, rec).Code)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/runs/"+id.String(), "").Code)
}

// ---- get -------------------------------------------------------------------

func TestGetRun(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addRun(model.RunStatusRendering)

	rec := env.do(http.MethodGet, "/v1/runs/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeData[model.GenerationRun](t, rec)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, model.RunStatusRendering, run.Status)
}

// ---- rendering callbacks ---------------------------------------------------

func TestCompleteRun(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addRun(model.RunStatusRendering)

	rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RunStatusCompleted, decodeData[model.GenerationRun](t, rec).Status)

	rec = env.do(http.MethodPost, "/v1/runs/"+id.String()+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "second completion is rejected")
}

func TestFailRun(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addRun(model.RunStatusRendering)

	rec := env.do(http.MethodPost, "/v1/runs/"+id.String()+"/fail", `{"message":"  encoder crashed "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeData[model.GenerationRun](t, rec)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "encoder crashed", run.ErrorMessage)
}

func TestFailRun_BadBodies(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.addRun(model.RunStatusRendering)
	path := "/v1/runs/" + id.String() + "/fail"

	rec := env.do(http.MethodPost, path, `{"reason":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = env.do(http.MethodPost, path, `{"message":"`+strings.Repeat("a", 2048)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Equal(t, model.RunStatusRendering, env.runs.runs[id].Status)
}

// ---- health & misc ---------------------------------------------------------

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.Gate = staticGate(false) })
	rec := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "connected", h.Postgres)
	assert.False(t, h.GenerationEnabled)
	assert.Equal(t, 2, h.QueueDepth)
	assert.Equal(t, 1, h.InFlight)
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.Searcher = fakePinger{err: errors.New("qdrant down")} })
	rec := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "unreachable", h.Search)

	env = newTestEnv(t, func(c *ServerConfig) {
		c.Dependencies = map[string]HealthChecker{
			"events": fakePinger{},
			"flags":  fakePinger{err: errors.New("redis down")},
		}
	})
	rec = env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h = decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, map[string]string{"events": "ok", "flags": "unreachable"}, h.Dependencies)

	env = newTestEnv(t, func(c *ServerConfig) { c.DB = fakePinger{err: errors.New("pg down")} })
	rec = env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "openapi")
}

func TestExtraMiddlewares_OutermostFirst(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	env := newTestEnv(t, func(c *ServerConfig) {
		c.Middlewares = []func(http.Handler) http.Handler{mw("first"), mw("second")}
	})
	env.do(http.MethodGet, "/health", "")
	assert.Equal(t, []string{"first", "second"}, order)
}
