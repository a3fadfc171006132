package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory RunStore with the same conditional-update rules
// as storage.DB.
type memStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]model.GenerationRun
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[uuid.UUID]model.GenerationRun)}
}

func (s *memStore) add(cust model.Customization, profile model.RequesterProfile) model.GenerationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r := model.GenerationRun{
		ID:            uuid.New(),
		RequesterID:   "user-1",
		Format:        cust.Format,
		Customization: cust,
		Profile:       profile,
		Status:        model.RunStatusQueued,
		StatusMessage: "Queued",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.runs[r.ID] = r
	return r
}

func (s *memStore) put(r model.GenerationRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

func (s *memStore) get(id uuid.UUID) model.GenerationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *memStore) GetRun(_ context.Context, id uuid.UUID) (model.GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return model.GenerationRun{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *memStore) transition(id uuid.UUID, from []model.RunStatus, fn func(*model.GenerationRun)) (model.GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return model.GenerationRun{}, storage.ErrNotFound
	}
	if from != nil && !slices.Contains(from, r.Status) {
		return model.GenerationRun{}, fmt.Errorf("%s: %w", r.Status, storage.ErrInvalidTransition)
	}
	fn(&r)
	r.UpdatedAt = time.Now()
	s.runs[id] = r
	return r, nil
}

func (s *memStore) ClaimRun(_ context.Context, id uuid.UUID, message string) (model.GenerationRun, error) {
	return s.transition(id, []model.RunStatus{model.RunStatusQueued}, func(r *model.GenerationRun) {
		r.Status = model.RunStatusProcessing
		r.StatusMessage = message
		r.ErrorMessage = ""
	})
}

func (s *memStore) UpdateRun(_ context.Context, id uuid.UUID, u model.RunUpdate) error {
	_, err := s.transition(id, u.Guard(), func(r *model.GenerationRun) {
		if u.Status != nil {
			r.Status = *u.Status
		}
		if u.StatusMessage != nil {
			r.StatusMessage = *u.StatusMessage
		}
		if u.Query != nil {
			r.Query = *u.Query
		}
		if u.ChunkIDs != nil {
			r.ChunkIDs = u.ChunkIDs
		}
		if u.Plan != nil {
			r.Plan = u.Plan
		}
		if u.Script != nil {
			r.Script = u.Script
		}
		if u.ErrorMessage != nil {
			r.ErrorMessage = *u.ErrorMessage
		}
		if u.CompletedAt != nil {
			r.CompletedAt = u.CompletedAt
		}
	})
	return err
}

func (s *memStore) RequeueForRetry(_ context.Context, id uuid.UUID, maxRetries int, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if r.Status != model.RunStatusProcessing {
		return 0, storage.ErrInvalidTransition
	}
	if r.RetryCount >= maxRetries {
		return r.RetryCount, storage.ErrRetryBudgetExhausted
	}
	r.RetryCount++
	r.Status = model.RunStatusQueued
	r.StatusMessage = message
	r.UpdatedAt = time.Now()
	s.runs[id] = r
	return r.RetryCount, nil
}

func (s *memStore) CompleteRendering(_ context.Context, id uuid.UUID) (model.GenerationRun, error) {
	return s.transition(id, []model.RunStatus{model.RunStatusRendering}, func(r *model.GenerationRun) {
		r.Status = model.RunStatusCompleted
		r.StatusMessage = "Completed"
	})
}

func (s *memStore) FailRendering(_ context.Context, id uuid.UUID, message string) (model.GenerationRun, error) {
	return s.transition(id, []model.RunStatus{model.RunStatusRendering}, func(r *model.GenerationRun) {
		r.Status = model.RunStatusFailed
		r.StatusMessage = "Rendering failed"
		r.ErrorMessage = message
	})
}

func (s *memStore) ListRuns(_ context.Context, f model.RunFilter) ([]model.GenerationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.GenerationRun
	for _, r := range s.runs {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		if r.RetryCount < f.MinRetryCount {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.GenerationRun) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return out, nil
}

// routedLLM answers by recognizing which stage's system prompt it was given.
type routedLLM struct {
	mu          sync.Mutex
	instruction string
	review      string
	plan        string
	script      string
	planErr     error
	onPlan      func()
	calls       map[string]int
}

func (f *routedLLM) Complete(_ context.Context, system, _ string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	switch {
	case strings.HasPrefix(system, "You screen"):
		f.calls["instruction"]++
		return f.instruction, nil
	case strings.HasPrefix(system, "You review"):
		f.calls["review"]++
		return f.review, nil
	case strings.Contains(system, "takeaway plan"):
		f.calls["plan"]++
		if f.onPlan != nil {
			f.onPlan()
		}
		return f.plan, f.planErr
	default:
		f.calls["script"]++
		return f.script, nil
	}
}

func (f *routedLLM) count(stage string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.NewVector([]float32{0.1, 0.2, 0.3}), nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

type fakeSearcher struct {
	mu     sync.Mutex
	chunks []model.ContextChunk
	err    error
	calls  int
}

func (f *fakeSearcher) Search(context.Context, pgvector.Vector, float64, int) ([]model.ContextChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.chunks, f.err
}

func (f *fakeSearcher) Healthy(context.Context) error { return nil }

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.RunEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev model.RunEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) statuses() []model.RunStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.RunStatus, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Status
	}
	return out
}
