package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContextChunk is one transcript segment returned by similarity search.
// Read-only to the pipeline.
type ContextChunk struct {
	ID         string  `json:"id"`
	Topic      string  `json:"topic"`
	Content    string  `json:"content"`
	TokenCount int     `json:"token_count"`
	Similarity float32 `json:"similarity"`
}

// RetrievedContext is the diversified set of chunks selected for one run.
type RetrievedContext struct {
	Chunks      []ContextChunk `json:"chunks"`
	Query       string         `json:"query"`
	TotalTokens int            `json:"total_tokens"`
}

// ChunkIDs returns the chunk ids in retrieval order.
func (rc RetrievedContext) ChunkIDs() []string {
	ids := make([]string, len(rc.Chunks))
	for i, c := range rc.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// Topics returns the distinct topics in first-seen order.
func (rc RetrievedContext) Topics() []string {
	seen := make(map[string]bool, len(rc.Chunks))
	var topics []string
	for _, c := range rc.Chunks {
		if !seen[c.Topic] {
			seen[c.Topic] = true
			topics = append(topics, c.Topic)
		}
	}
	return topics
}

// Plan bounds.
const (
	MaxTitleRunes = 60
	MinKeyPoints  = 3
	MaxKeyPoints  = 5
)

// ErrInvalidPlan is wrapped by every plan invariant failure.
var ErrInvalidPlan = errors.New("model: invalid takeaway plan")

// TakeawayPlan is the structured outline produced by the first LLM stage.
type TakeawayPlan struct {
	Title        string   `json:"title"`
	Hook         string   `json:"hook"`
	KeyPoints    []string `json:"key_points"`
	Framing      string   `json:"framing"`
	CallToAction string   `json:"call_to_action"`
}

// NewTakeawayPlan builds a plan and enforces its structural invariants.
func NewTakeawayPlan(title, hook string, keyPoints []string, framing, callToAction string) (TakeawayPlan, error) {
	p := TakeawayPlan{
		Title:        strings.TrimSpace(title),
		Hook:         strings.TrimSpace(hook),
		KeyPoints:    make([]string, 0, len(keyPoints)),
		Framing:      strings.TrimSpace(framing),
		CallToAction: strings.TrimSpace(callToAction),
	}
	for _, kp := range keyPoints {
		p.KeyPoints = append(p.KeyPoints, strings.TrimSpace(kp))
	}
	if err := p.Validate(); err != nil {
		return TakeawayPlan{}, err
	}
	return p, nil
}

// Validate checks that every field is non-empty, the title fits, and there
// are between MinKeyPoints and MaxKeyPoints key points.
func (p TakeawayPlan) Validate() error {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return fmt.Errorf("%w: title is empty", ErrInvalidPlan)
	case utf8.RuneCountInString(p.Title) > MaxTitleRunes:
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidPlan, MaxTitleRunes)
	case strings.TrimSpace(p.Hook) == "":
		return fmt.Errorf("%w: hook is empty", ErrInvalidPlan)
	case len(p.KeyPoints) < MinKeyPoints:
		return fmt.Errorf("%w: %d key points, need at least %d", ErrInvalidPlan, len(p.KeyPoints), MinKeyPoints)
	case len(p.KeyPoints) > MaxKeyPoints:
		return fmt.Errorf("%w: %d key points, at most %d allowed", ErrInvalidPlan, len(p.KeyPoints), MaxKeyPoints)
	case strings.TrimSpace(p.Framing) == "":
		return fmt.Errorf("%w: framing is empty", ErrInvalidPlan)
	case strings.TrimSpace(p.CallToAction) == "":
		return fmt.Errorf("%w: call_to_action is empty", ErrInvalidPlan)
	}
	for i, kp := range p.KeyPoints {
		if strings.TrimSpace(kp) == "" {
			return fmt.Errorf("%w: key point %d is empty", ErrInvalidPlan, i+1)
		}
	}
	return nil
}

// Text renders the plan as plain text, one field per line.
func (p TakeawayPlan) Text() string {
	var sb strings.Builder
	sb.WriteString("Title: " + p.Title + "\n")
	sb.WriteString("Hook: " + p.Hook + "\n")
	sb.WriteString("Key points:\n")
	for i, kp := range p.KeyPoints {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, kp)
	}
	sb.WriteString("Framing: " + p.Framing + "\n")
	sb.WriteString("Call to action: " + p.CallToAction + "\n")
	return sb.String()
}

// Script is the generated script text. For slides it is a JSON array of
// Slide objects.
type Script string

// WordCount returns the number of whitespace-separated words.
func (s Script) WordCount() int {
	return len(strings.Fields(string(s)))
}

// Slide is one entry of a slides-format script.
type Slide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// ParseSlides decodes a slides-format script. Rendering back ends call this
// at their boundary; the pipeline itself never does.
func ParseSlides(s Script) ([]Slide, error) {
	var slides []Slide
	if err := json.Unmarshal([]byte(s), &slides); err != nil {
		return nil, fmt.Errorf("model: parse slides: %w", err)
	}
	if len(slides) == 0 {
		return nil, errors.New("model: parse slides: no slides")
	}
	for i, sl := range slides {
		if strings.TrimSpace(sl.Title) == "" {
			return nil, fmt.Errorf("model: parse slides: slide %d has no title", i+1)
		}
	}
	return slides, nil
}
