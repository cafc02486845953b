// Package style runs rule-based checks that the typo classifier does not
// cover: kanji that house style prefers written in kana, and sentences
// that run too long.
package style

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

const (
	// DefaultMaxSentenceRunes is the longest sentence accepted without a finding.
	DefaultMaxSentenceRunes = 40

	RuleDiscouraged  = "discouraged-kanji"
	RuleLongSentence = "long-sentence"
)

// DefaultDiscouraged lists words usually written in kana.
var DefaultDiscouraged = []string{"頂き", "下さい", "所謂", "概ね"}

// Morpheme is one word produced by a Segmenter. Offset is the byte offset
// of Surface in the segmented text.
type Morpheme struct {
	Surface string
	Offset  int
}

// Segmenter splits Japanese text into words.
type Segmenter interface {
	Segment(text string) []Morpheme
}

// Finding is a single style issue.
type Finding struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (f Finding) String() string { return f.Message }

type Linter struct {
	MaxSentenceRunes int
	Discouraged      []string
	segmenter        Segmenter
}

// NewLinter returns a linter with the default rules, segmenting with seg.
// A nil seg disables the discouraged-kanji rule.
func NewLinter(seg Segmenter) *Linter {
	return &Linter{
		MaxSentenceRunes: DefaultMaxSentenceRunes,
		Discouraged:      slices.Clone(DefaultDiscouraged),
		segmenter:        seg,
	}
}

// Lint returns the findings for text, discouraged kanji first, then long
// sentences, each group in document order.
func (l *Linter) Lint(text string) []Finding {
	findings := make([]Finding, 0)
	lines := newLineIndex(text)

	if l.segmenter != nil && len(l.Discouraged) > 0 {
		for _, m := range l.segmenter.Segment(text) {
			if !slices.Contains(l.Discouraged, m.Surface) {
				continue
			}
			line, col := lines.locate(m.Offset)
			findings = append(findings, Finding{
				Rule:    RuleDiscouraged,
				Line:    line,
				Column:  col,
				Text:    m.Surface,
				Message: fmt.Sprintf("開いたほうが良い漢字があります: %s", m.Surface),
			})
		}
	}

	limit := l.MaxSentenceRunes
	if limit <= 0 {
		limit = DefaultMaxSentenceRunes
	}
	for _, s := range sentences(text) {
		if utf8.RuneCountInString(s.text) <= limit {
			continue
		}
		line, col := lines.locate(s.offset)
		findings = append(findings, Finding{
			Rule:    RuleLongSentence,
			Line:    line,
			Column:  col,
			Text:    s.text,
			Message: fmt.Sprintf("行: %d - 1文が%d文字を超えています。", line, limit),
		})
	}

	return findings
}

type sentence struct {
	text   string
	offset int
}

// sentences splits text on 。 and line breaks, trimming surrounding
// whitespace and dropping empty sentences.
func sentences(text string) []sentence {
	var out []sentence
	start := 0
	flush := func(end int) {
		raw := text[start:end]
		trimmed := strings.TrimLeft(raw, " \t\r　")
		off := start + len(raw) - len(trimmed)
		trimmed = strings.TrimRight(trimmed, " \t\r　")
		if trimmed != "" {
			out = append(out, sentence{text: trimmed, offset: off})
		}
	}
	for i, r := range text {
		if r == '。' || r == '\n' {
			flush(i)
			start = i + utf8.RuneLen(r)
		}
	}
	flush(len(text))
	return out
}

// lineIndex maps byte offsets to 1-based line and rune column.
type lineIndex struct {
	text   string
	starts []int
}

func newLineIndex(text string) lineIndex {
	starts := []int{0}
	for i, r := range text {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{text: text, starts: starts}
}

func (li lineIndex) locate(offset int) (line, col int) {
	n, found := slices.BinarySearch(li.starts, offset)
	if !found {
		n--
	}
	return n + 1, utf8.RuneCountInString(li.text[li.starts[n]:offset]) + 1
}

// KagomeSegmenter segments with kagome and the IPA dictionary.
type KagomeSegmenter struct {
	t *tokenizer.Tokenizer
}

// NewKagomeSegmenter loads the IPA dictionary. Loading takes a moment and
// the result is safe for concurrent use, so build one per process.
func NewKagomeSegmenter() (*KagomeSegmenter, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, fmt.Errorf("failed to create kagome tokenizer: %w", err)
	}
	return &KagomeSegmenter{t: t}, nil
}

func (k *KagomeSegmenter) Segment(text string) []Morpheme {
	toks := k.t.Tokenize(text)
	out := make([]Morpheme, 0, len(toks))
	for _, tok := range toks {
		out = append(out, Morpheme{Surface: tok.Surface, Offset: tok.Position})
	}
	return out
}
