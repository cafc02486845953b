// Package tokens turns model token sequences back into text and aligns
// tokens with the text they were produced from.
package tokens

import (
	"strings"
	"unicode/utf8"
)

const (
	// WordPiecePrefix marks a WordPiece continuation token ("##る").
	WordPiecePrefix = "##"
	// SentencePieceBoundary marks a SentencePiece word start ("▁私").
	SentencePieceBoundary = "▁"
)

// Assembler reassembles subword tokens into a string. The zero value joins
// tokens verbatim; use Japanese for the markers emitted by BERT and RoBERTa
// tokenizers on unsegmented Japanese text.
type Assembler struct {
	// Separator is inserted between tokens that start a new word.
	Separator string
	// SubwordPrefix marks tokens glued to their predecessor.
	SubwordPrefix string
	// BoundaryMarker is a word-start marker replaced by Separator.
	BoundaryMarker string
}

// Japanese returns the assembler used for Japanese text, which carries no
// spaces between words.
func Japanese() Assembler {
	return Assembler{
		Separator:      "",
		SubwordPrefix:  WordPiecePrefix,
		BoundaryMarker: SentencePieceBoundary,
	}
}

// Surface returns the text a single token contributes, without markers.
func (a Assembler) Surface(tok string) string {
	if a.SubwordPrefix != "" {
		tok = strings.TrimPrefix(tok, a.SubwordPrefix)
	}
	if a.BoundaryMarker != "" {
		tok = strings.ReplaceAll(tok, a.BoundaryMarker, "")
	}
	return tok
}

// Join reassembles toks into a string. Separator goes between tokens
// except before continuation tokens.
func (a Assembler) Join(toks []string) string {
	var b strings.Builder
	for i, tok := range toks {
		glued := a.SubwordPrefix != "" && strings.HasPrefix(tok, a.SubwordPrefix)
		if i > 0 && !glued {
			b.WriteString(a.Separator)
		}
		b.WriteString(a.Surface(tok))
	}
	return b.String()
}

// Offsets returns, for every token, the byte offset in text where its
// surface starts. Tokens are searched left to right; a token whose surface
// cannot be found (normalised away by the tokenizer, or unknown-token
// placeholders) gets -1 and does not advance the cursor.
func (a Assembler) Offsets(text string, toks []string) []int {
	offsets := make([]int, len(toks))
	cursor := 0
	for i, tok := range toks {
		surface := a.Surface(tok)
		if surface == "" {
			offsets[i] = -1
			continue
		}
		idx := strings.Index(text[cursor:], surface)
		if idx < 0 {
			offsets[i] = -1
			continue
		}
		offsets[i] = cursor + idx
		cursor += idx + len(surface)
	}
	return offsets
}

// Compact drops empty slots, keeping order.
func Compact(toks []string) []string {
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// SplitRunes splits text into one token per rune, except that every
// occurrence of a reserved token (such as a mask placeholder) is kept whole.
func SplitRunes(text string, reserved ...string) []string {
	var out []string
next:
	for len(text) > 0 {
		for _, r := range reserved {
			if r != "" && strings.HasPrefix(text, r) {
				out = append(out, r)
				text = text[len(r):]
				continue next
			}
		}
		_, size := utf8.DecodeRuneInString(text)
		out = append(out, text[:size])
		text = text[size:]
	}
	return out
}
