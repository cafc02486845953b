// Package detector identifies the language of an input text.
package detector

import (
	lingua "github.com/pemistahl/lingua-go"
)

// candidates are the languages a Japanese proofreading input is plausibly
// mistaken for. Restricting the set keeps the detector small and fast.
var candidates = []lingua.Language{
	lingua.Japanese,
	lingua.Chinese,
	lingua.Korean,
	lingua.English,
}

type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(candidates...).
		Build()

	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}
