// Package retrieval selects transcript context for a generation run: it
// composes a natural-language query from the requester and format, embeds
// it, searches for similar chunks, and spreads the selection across topics.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/search"
	"github.com/ashita-ai/recast/internal/service/embedding"
)

// Error reports a failed retrieval. Transient is true when the embedding or
// search backend failed with a temporary fault. It is false when the search
// succeeded but found nothing relevant, or the backend rejected the request
// outright.
type Error struct {
	Transient bool
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retrieval: %s: %v", e.Reason, e.Err)
	}
	return "retrieval: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Retriever implements context retrieval over an embedding provider and a
// similarity searcher.
type Retriever struct {
	embedder  embedding.Provider
	searcher  search.Searcher
	threshold float64
	logger    *slog.Logger
}

// New creates a Retriever. threshold is the minimum similarity in [0,1].
func New(embedder embedding.Provider, searcher search.Searcher, threshold float64, logger *slog.Logger) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, threshold: threshold, logger: logger}
}

// Retrieve returns at most topK diversified chunks for the requester.
// Fewer than topK candidates is not an error; zero candidates is.
func (r *Retriever) Retrieve(ctx context.Context, profile model.RequesterProfile, format model.Format, cust model.Customization, topK int) (model.RetrievedContext, error) {
	if topK <= 0 {
		return model.RetrievedContext{}, &Error{Reason: fmt.Sprintf("top_k must be positive, got %d", topK)}
	}
	query := BuildQuery(profile, format, cust)

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return model.RetrievedContext{}, &Error{Transient: llm.IsTransient(err), Reason: "embed query", Err: err}
	}

	candidates, err := r.searcher.Search(ctx, vec, r.threshold, 2*topK)
	if err != nil {
		return model.RetrievedContext{}, &Error{Transient: llm.IsTransient(err), Reason: "similarity search", Err: err}
	}
	if len(candidates) == 0 {
		return model.RetrievedContext{}, &Error{
			Reason: fmt.Sprintf("no transcript content above similarity %.2f", r.threshold),
		}
	}

	chunks := Diversify(candidates, topK)
	rc := model.RetrievedContext{Chunks: chunks, Query: query}
	for _, c := range chunks {
		rc.TotalTokens += c.TokenCount
	}

	r.logger.Debug("retrieval: context selected",
		"candidates", len(candidates),
		"chunks", len(chunks),
		"topics", len(rc.Topics()),
		"tokens", rc.TotalTokens,
	)
	return rc, nil
}

var formatIntent = map[model.Format]string{
	model.FormatVideo:   "Key insights for a short personalized video briefing",
	model.FormatPodcast: "Key insights for a conversational podcast episode",
	model.FormatSlides:  "Key insights for a concise slide presentation",
}

var formatHint = map[model.Format]string{
	model.FormatVideo:   "Prefer concrete examples and memorable moments that work when spoken to camera.",
	model.FormatPodcast: "Prefer stories and explanations that can be discussed at a relaxed pace.",
	model.FormatSlides:  "Prefer structured facts and frameworks that fit on a slide.",
}

// BuildQuery composes the similarity-search query: format intent, the
// profile attributes present, the extra instruction if any, and a
// format-specific hint.
func BuildQuery(profile model.RequesterProfile, format model.Format, cust model.Customization) string {
	parts := []string{formatIntent[format]}

	var who []string
	if v := strings.TrimSpace(profile.Role); v != "" {
		who = append(who, "for a "+v)
	}
	if v := strings.TrimSpace(profile.Segment); v != "" {
		who = append(who, "in the "+v+" segment")
	}
	if v := strings.TrimSpace(profile.Geography); v != "" {
		who = append(who, "based in "+v)
	}
	if v := strings.TrimSpace(profile.Function); v != "" {
		who = append(who, "working in "+v)
	}
	if len(who) > 0 {
		parts[0] += " " + strings.Join(who, ", ")
	}
	parts[0] += "."

	if v := strings.TrimSpace(cust.ExtraInstruction); v != "" {
		parts = append(parts, "Focus: "+v+".")
	}
	parts = append(parts, formatHint[format])
	return strings.Join(parts, " ")
}
