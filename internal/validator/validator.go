// Package validator checks that an input text is in the language the
// correction models were trained on.
package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/valpere/kosei/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 8

// DefaultLanguage is the ISO 639-1 code of the supported input language.
const DefaultLanguage = "ja"

// ErrWrongLanguage is returned when the input is detected as another language.
var ErrWrongLanguage = errors.New("input is not in the expected language")

// Validator checks that an input is written in the expected language.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

// New creates a Validator backed by the lingua-go language detector.
func New() *Validator {
	return &Validator{det: detector.New()}
}

// Check returns nil when text appears to be written in lang.
//
// Short texts and texts whose language cannot be determined pass. When the
// detected language differs from lang the error wraps ErrWrongLanguage and
// names both codes.
func (v *Validator) Check(text, lang string) error {
	if lang == "" {
		lang = DefaultLanguage
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("input is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return nil
	}

	if !strings.EqualFold(detected, lang) {
		return fmt.Errorf("%w: expected %s but detected %s", ErrWrongLanguage, lang, strings.ToLower(detected))
	}

	return nil
}
