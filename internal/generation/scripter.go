package generation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/model"
)

var scriptOptions = llm.Options{Temperature: 0.7, MaxTokens: 2000}

const (
	videoSystemPrompt = `You write direct-to-camera monologue scripts for short internal training videos.
Write in the first person as the presenter, speaking to one colleague.
Output only the words to be spoken: no stage directions, headings, or speaker labels.
Use only the ideas in the plan. Never add figures, dates, competitor names, predictions, or promises.`

	podcastSystemPrompt = `You write conversational narration for a single-host internal podcast episode.
Sound natural and warm, as if talking to a colleague. Insert [pause] on its own where the host should pause for effect.
Output only the narration: no headings, music cues, or speaker labels.
Use only the ideas in the plan. Never add figures, dates, competitor names, predictions, or promises.`

	slidesSystemPrompt = `You write slide outlines for short internal presentations.
Respond with a JSON array only. Each element is an object with "title" (string) and "bullets" (array of short strings, at most 4).
The first slide introduces the topic and the last slide carries the call to action.
Use only the ideas in the plan. Never add figures, dates, competitor names, predictions, or promises.`
)

func systemPromptFor(format model.Format) string {
	switch format {
	case model.FormatPodcast:
		return podcastSystemPrompt
	case model.FormatSlides:
		return slidesSystemPrompt
	default:
		return videoSystemPrompt
	}
}

// Scripter turns a plan into a format-specific script.
type Scripter struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewScripter creates a Scripter.
func NewScripter(client llm.Client, logger *slog.Logger) *Scripter {
	return &Scripter{llm: client, logger: logger}
}

// Script makes one completion. Slides output is returned with any code fence
// removed but is otherwise not interpreted.
func (s *Scripter) Script(ctx context.Context, plan model.TakeawayPlan, format model.Format, presenterName string, cust model.Customization) (model.Script, error) {
	reply, err := s.llm.Complete(ctx, systemPromptFor(format), scriptUserPrompt(plan, format, presenterName, cust), scriptOptions)
	if err != nil {
		return "", &Error{Stage: StageScript, Reason: "completion failed", Provider: true, Err: err}
	}

	text := strings.TrimSpace(reply)
	if format == model.FormatSlides {
		text = llm.CleanJSONBlock(text)
	}
	if text == "" {
		return "", &Error{Stage: StageScript, Reason: "empty completion", Err: llm.ErrEmptyCompletion}
	}

	script := model.Script(text)
	if format != model.FormatSlides {
		t := LengthTarget(format, cust.Length)
		if n := script.WordCount(); n < t.MinWords/2 || n > t.MaxWords*2 {
			s.logger.Info("generation: script length off target", "format", format, "words", n, "target", t.Describe())
		}
	}
	return script, nil
}

func scriptUserPrompt(plan model.TakeawayPlan, format model.Format, presenterName string, cust model.Customization) string {
	var sb strings.Builder
	if format != model.FormatSlides {
		fmt.Fprintf(&sb, "Presenter: %s\n", cmp.Or(strings.TrimSpace(presenterName), "the presenter"))
	}
	fmt.Fprintf(&sb, "Length: %s\n", LengthTarget(format, cust.Length).Describe())
	fmt.Fprintf(&sb, "Tone: %s\n", cust.Tone)
	fmt.Fprintf(&sb, "Language: write entirely in %s\n\n", cust.LanguageOrDefault())
	sb.WriteString("Plan:\n")
	sb.WriteString(plan.Text())
	return sb.String()
}
