// Package model defines the core domain types for recast.
//
// Types correspond to the generation_runs table and to the payloads passed
// between pipeline stages. Inputs (RequesterProfile, Customization) are
// immutable once a run is created.
package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Format is the kind of derivative content a run produces.
type Format string

const (
	FormatVideo   Format = "video"
	FormatPodcast Format = "podcast"
	FormatSlides  Format = "slides"
)

// Tone is one of the fixed tone presets offered to requesters.
type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneConversational Tone = "conversational"
	ToneEnthusiastic   Tone = "enthusiastic"
	ToneAuthoritative  Tone = "authoritative"
	ToneFriendly       Tone = "friendly"
)

// Length is one of the fixed length presets.
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// MaxInstructionRunes bounds the free-text extra instruction.
const MaxInstructionRunes = 200

// DefaultLanguage is used when a customization omits the language code.
const DefaultLanguage = "en"

// RequesterProfile describes who the content is tailored for. All fields are
// optional free text owned by the external user-management system.
type RequesterProfile struct {
	Role      string `json:"role,omitempty"`
	Segment   string `json:"segment,omitempty"`
	Geography string `json:"geography,omitempty"`
	Function  string `json:"function,omitempty"`
}

// IsEmpty reports whether no profile attribute is set.
func (p RequesterProfile) IsEmpty() bool {
	return strings.TrimSpace(p.Role) == "" &&
		strings.TrimSpace(p.Segment) == "" &&
		strings.TrimSpace(p.Geography) == "" &&
		strings.TrimSpace(p.Function) == ""
}

// Customization holds the requester's presentation choices for one run.
type Customization struct {
	Format           Format `json:"format" validate:"required,oneof=video podcast slides"`
	Language         string `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	Tone             Tone   `json:"tone" validate:"required,oneof=professional conversational enthusiastic authoritative friendly"`
	Length           Length `json:"length" validate:"required,oneof=short medium long"`
	ExtraInstruction string `json:"extra_instruction,omitempty" validate:"max=200"`
}

// LanguageOrDefault returns the language code, falling back to DefaultLanguage.
func (c Customization) LanguageOrDefault() string {
	if strings.TrimSpace(c.Language) == "" {
		return DefaultLanguage
	}
	return c.Language
}

var validate = newValidator()

// newValidator reports fields by their JSON names so errors match the wire format.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the customization against the allowed presets.
func (c Customization) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() == "" {
				return fmt.Errorf("customization: invalid %s (%s)", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("customization: invalid %s (%s=%s)", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("customization: %w", err)
	}
	return nil
}

// ParseFormat converts a string to a Format, rejecting unknown values.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatVideo, FormatPodcast, FormatSlides:
		return f, nil
	default:
		return "", fmt.Errorf("model: unknown format %q", s)
	}
}
