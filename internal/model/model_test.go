package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/recast/internal/model"
)

// ---- TakeawayPlan ----------------------------------------------------------

func validKeyPoints(n int) []string {
	points := make([]string, n)
	for i := range points {
		points[i] = "point " + strings.Repeat("x", i+1)
	}
	return points
}

func TestNewTakeawayPlan_HappyPath(t *testing.T) {
	p, err := model.NewTakeawayPlan("  Scaling onboarding  ", "Hook", validKeyPoints(3), "Framing", "Share with your team")
	require.NoError(t, err)
	assert.Equal(t, "Scaling onboarding", p.Title, "fields are trimmed")
	assert.Len(t, p.KeyPoints, 3)
}

func TestNewTakeawayPlan_KeyPointBounds(t *testing.T) {
	for _, n := range []int{0, 1, 2} {
		_, err := model.NewTakeawayPlan("Title", "Hook", validKeyPoints(n), "Framing", "CTA")
		require.Error(t, err, "%d key points must fail", n)
		assert.ErrorIs(t, err, model.ErrInvalidPlan)
	}
	for _, n := range []int{3, 4, 5} {
		_, err := model.NewTakeawayPlan("Title", "Hook", validKeyPoints(n), "Framing", "CTA")
		assert.NoError(t, err, "%d key points must pass", n)
	}
	_, err := model.NewTakeawayPlan("Title", "Hook", validKeyPoints(6), "Framing", "CTA")
	assert.ErrorIs(t, err, model.ErrInvalidPlan)
}

func TestTakeawayPlan_TitleLength(t *testing.T) {
	_, err := model.NewTakeawayPlan(strings.Repeat("t", model.MaxTitleRunes), "Hook", validKeyPoints(3), "Framing", "CTA")
	assert.NoError(t, err, "title at the limit passes")

	_, err = model.NewTakeawayPlan(strings.Repeat("t", model.MaxTitleRunes+1), "Hook", validKeyPoints(3), "Framing", "CTA")
	assert.ErrorIs(t, err, model.ErrInvalidPlan)

	// Limit counts characters, not bytes.
	_, err = model.NewTakeawayPlan(strings.Repeat("é", model.MaxTitleRunes), "Hook", validKeyPoints(3), "Framing", "CTA")
	assert.NoError(t, err)
}

func TestTakeawayPlan_EmptyFields(t *testing.T) {
	cases := map[string]model.TakeawayPlan{
		"title":   {Hook: "h", KeyPoints: validKeyPoints(3), Framing: "f", CallToAction: "c"},
		"hook":    {Title: "t", KeyPoints: validKeyPoints(3), Framing: "f", CallToAction: "c"},
		"framing": {Title: "t", Hook: "h", KeyPoints: validKeyPoints(3), CallToAction: "c"},
		"cta":     {Title: "t", Hook: "h", KeyPoints: validKeyPoints(3), Framing: "f"},
		"blank key point": {
			Title: "t", Hook: "h", KeyPoints: []string{"a", " ", "c"}, Framing: "f", CallToAction: "c",
		},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Validate(), model.ErrInvalidPlan)
		})
	}
}

// ---- Customization ---------------------------------------------------------

func TestCustomization_Validate(t *testing.T) {
	valid := model.Customization{
		Format: model.FormatVideo,
		Tone:   model.ToneProfessional,
		Length: model.LengthMedium,
	}
	assert.NoError(t, valid.Validate())

	withLang := valid
	withLang.Language = "pt-BR"
	assert.NoError(t, withLang.Validate())

	badTone := valid
	badTone.Tone = "sarcastic"
	err := badTone.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tone")

	badFormat := valid
	badFormat.Format = "blog"
	assert.Error(t, badFormat.Validate())

	longInstruction := valid
	longInstruction.ExtraInstruction = strings.Repeat("a", model.MaxInstructionRunes+1)
	err = longInstruction.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extra_instruction")

	atLimit := valid
	atLimit.ExtraInstruction = strings.Repeat("ü", model.MaxInstructionRunes)
	assert.NoError(t, atLimit.Validate(), "limit counts characters")
}

func TestCustomization_LanguageOrDefault(t *testing.T) {
	assert.Equal(t, "en", model.Customization{}.LanguageOrDefault())
	assert.Equal(t, "de", model.Customization{Language: "de"}.LanguageOrDefault())
}

func TestParseFormat(t *testing.T) {
	f, err := model.ParseFormat(" Podcast ")
	require.NoError(t, err)
	assert.Equal(t, model.FormatPodcast, f)

	_, err = model.ParseFormat("newsletter")
	assert.Error(t, err)
}

// ---- RunStatus -------------------------------------------------------------

func TestCanTransition(t *testing.T) {
	assert.True(t, model.CanTransition(model.RunStatusQueued, model.RunStatusProcessing))
	assert.True(t, model.CanTransition(model.RunStatusProcessing, model.RunStatusQueued), "retry path")
	assert.True(t, model.CanTransition(model.RunStatusProcessing, model.RunStatusRendering))
	assert.True(t, model.CanTransition(model.RunStatusRendering, model.RunStatusCompleted))
	assert.True(t, model.CanTransition(model.RunStatusRendering, model.RunStatusFailed))

	assert.False(t, model.CanTransition(model.RunStatusProcessing, model.RunStatusCompleted), "orchestrator never completes directly")
	assert.False(t, model.CanTransition(model.RunStatusQueued, model.RunStatusRendering))
	assert.False(t, model.CanTransition(model.RunStatusCompleted, model.RunStatusFailed))
	assert.False(t, model.CanTransition(model.RunStatusFailed, model.RunStatusQueued))
}

func TestRunUpdate_IsEmpty(t *testing.T) {
	assert.True(t, model.RunUpdate{}.IsEmpty())
	assert.False(t, model.StatusUpdate(model.RunStatusProcessing, "Retrieving context").IsEmpty())
	assert.False(t, model.RunUpdate{ChunkIDs: []string{}}.IsEmpty(), "empty non-nil slice is a write")
}

// ---- Script ----------------------------------------------------------------

func TestScript_WordCount(t *testing.T) {
	assert.Equal(t, 0, model.Script("   ").WordCount())
	assert.Equal(t, 5, model.Script("one two\nthree  four\tfive").WordCount())
}

func TestParseSlides(t *testing.T) {
	slides, err := model.ParseSlides(`[{"title":"Intro","bullets":["a","b"]},{"title":"Next","bullets":[]}]`)
	require.NoError(t, err)
	require.Len(t, slides, 2)
	assert.Equal(t, "Intro", slides[0].Title)

	_, err = model.ParseSlides(`[]`)
	assert.Error(t, err)
	_, err = model.ParseSlides(`not json`)
	assert.Error(t, err)
	_, err = model.ParseSlides(`[{"title":"","bullets":["a"]}]`)
	assert.Error(t, err)
}

func TestRetrievedContext_Helpers(t *testing.T) {
	rc := model.RetrievedContext{Chunks: []model.ContextChunk{
		{ID: "a", Topic: "pricing"},
		{ID: "b", Topic: "roadmap"},
		{ID: "c", Topic: "pricing"},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, rc.ChunkIDs())
	assert.Equal(t, []string{"pricing", "roadmap"}, rc.Topics())
}

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []model.RunStatus{model.RunStatusQueued, model.RunStatusProcessing, model.RunStatusRendering},
		model.AllowedFrom(model.RunStatusFailed))
	assert.Equal(t, []model.RunStatus{model.RunStatusRendering}, model.AllowedFrom(model.RunStatusCompleted))
	assert.Empty(t, model.AllowedFrom(model.RunStatusCompleted + "x"))
}

func TestRunUpdate_Guard(t *testing.T) {
	msg := "Planning"
	assert.Equal(t, []model.RunStatus{model.RunStatusProcessing}, model.RunUpdate{StatusMessage: &msg}.Guard(),
		"field-only updates apply to processing runs")

	failed, processing, completed := model.RunStatusFailed, model.RunStatusProcessing, model.RunStatusCompleted
	assert.Equal(t, model.AllowedFrom(failed), model.RunUpdate{Status: &failed}.Guard())
	assert.Equal(t, []model.RunStatus{model.RunStatusProcessing},
		model.RunUpdate{Status: &failed, ExpectStatus: &processing}.Guard())
	assert.Empty(t, model.RunUpdate{Status: &failed, ExpectStatus: &completed}.Guard())
}
