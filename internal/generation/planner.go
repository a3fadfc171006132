package generation

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/model"
)

//go:embed plan.schema.json
var planSchemaJSON string

var planSchema = mustSchema(planSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("generation: compile plan schema: %v", err))
	}
	return s
}

var planOptions = llm.Options{Temperature: 0.4, MaxTokens: 1200, JSONMode: true}

const planSystemPrompt = `You turn excerpts from an internal presentation into a short takeaway plan for one employee.

Hard rules:
1. Use only the provided excerpts as your source. Do not add outside knowledge, quotes, names, or examples.
2. Never invent figures or dates. Leave out financial figures, fiscal quarters and years, and forward-looking statements.
3. Never name or compare against competitors.
4. Never promise or guarantee an outcome.
5. The call to action must point to an internal action the employee can take inside the company, never to customers or the public.

Output format:
- Between 3 and 5 key points, each one sentence.
- A title of 60 characters or fewer.
- A single JSON object with exactly these fields: "title", "hook", "key_points" (array of strings), "framing", "call_to_action". No other text.

Tailor the hook, framing, and call to action to the employee described.`

// Planner produces a TakeawayPlan from retrieved context.
type Planner struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(client llm.Client, logger *slog.Logger) *Planner {
	return &Planner{llm: client, logger: logger}
}

// Plan makes one completion and returns the validated plan.
func (p *Planner) Plan(ctx context.Context, rc model.RetrievedContext, profile model.RequesterProfile, format model.Format, cust model.Customization) (model.TakeawayPlan, error) {
	reply, err := p.llm.Complete(ctx, planSystemPrompt, planUserPrompt(rc, profile, format, cust), planOptions)
	if err != nil {
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "completion failed", Provider: true, Err: err}
	}
	plan, err := ParsePlan(reply)
	if err != nil {
		p.logger.Warn("generation: rejected plan output", "error", err, "reply", truncate(reply, 200))
		return model.TakeawayPlan{}, err
	}
	return plan, nil
}

// ParsePlan strips a code fence, checks the document against the plan schema,
// and decodes it.
func ParsePlan(reply string) (model.TakeawayPlan, error) {
	doc := llm.CleanJSONBlock(reply)
	if doc == "" {
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "empty completion", Err: llm.ErrEmptyCompletion}
	}

	result, err := planSchema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "output is not JSON", Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "schema mismatch: " + strings.Join(msgs, "; ")}
	}

	var raw model.TakeawayPlan
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "decode", Err: err}
	}
	plan, err := model.NewTakeawayPlan(raw.Title, raw.Hook, raw.KeyPoints, raw.Framing, raw.CallToAction)
	if err != nil {
		return model.TakeawayPlan{}, &Error{Stage: StagePlan, Reason: "invalid plan", Err: err}
	}
	return plan, nil
}

func planUserPrompt(rc model.RetrievedContext, profile model.RequesterProfile, format model.Format, cust model.Customization) string {
	var sb strings.Builder
	sb.WriteString("Employee:\n")
	writeAttr(&sb, "Role", profile.Role)
	writeAttr(&sb, "Segment", profile.Segment)
	writeAttr(&sb, "Geography", profile.Geography)
	writeAttr(&sb, "Function", profile.Function)
	if profile.IsEmpty() {
		sb.WriteString("- No profile details available.\n")
	}

	fmt.Fprintf(&sb, "\nTarget format: %s\nTone: %s\nLanguage: %s\n", format, cust.Tone, cust.LanguageOrDefault())
	if instr := strings.TrimSpace(cust.ExtraInstruction); instr != "" {
		fmt.Fprintf(&sb, "Requester note: %s\n", instr)
	}

	sb.WriteString("\nExcerpts:\n")
	for i, c := range rc.Chunks {
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, c.Topic, strings.TrimSpace(c.Content))
	}
	return sb.String()
}

func writeAttr(sb *strings.Builder, label, value string) {
	if v := strings.TrimSpace(value); v != "" {
		fmt.Fprintf(sb, "- %s: %s\n", label, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
