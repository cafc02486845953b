// Package chunker splits a document into segments small enough for the
// token classifier's input window and stitches corrected segments back
// into the document. Segments never cross a line break, so every segment
// knows the line it came from.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxRunes matches the 512-token window of BERT-style classifiers
// with headroom for special tokens and subword expansion.
const DefaultMaxRunes = 256

// Segment is a contiguous slice of the source document.
type Segment struct {
	// Text is the segment content, exactly as in the document.
	Text string
	// Line is the 1-based line number the segment starts on.
	Line int
	// Offset is the byte offset of Text in the document.
	Offset int
}

// Split cuts text into segments of at most maxRunes code points. Each
// non-blank line becomes one segment; a line longer than maxRunes is cut
// after the last sentence terminator (。！？!?) inside the window, or hard
// cut if there is none. Blank lines produce no segment.
//
// If maxRunes <= 0 each line is kept whole.
func Split(text string, maxRunes int) []Segment {
	var segs []Segment
	offset := 0
	for i, line := range strings.SplitAfter(text, "\n") {
		start := offset
		offset += len(line)

		body := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(body) == "" {
			continue
		}

		for body != "" {
			cut := len(body)
			if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
				cut = findSplit(body, maxRunes)
			}
			if strings.TrimSpace(body[:cut]) != "" {
				segs = append(segs, Segment{Text: body[:cut], Line: i + 1, Offset: start})
			}
			start += cut
			body = body[cut:]
		}
	}
	return segs
}

// findSplit returns the byte index at which to cut s so the first part has
// at most maxRunes runes.
func findSplit(s string, maxRunes int) int {
	limit := 0
	for n := 0; n < maxRunes && limit < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[limit:])
		limit += size
	}

	// Sentence terminator, searching backwards from the limit.
	for i := limit; i > 0; {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if isTerminator(r) {
			return i
		}
		i -= size
	}

	// Whitespace, for mixed-script lines.
	for i := limit; i > 0; {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if unicode.IsSpace(r) && i-size > 0 {
			return i
		}
		i -= size
	}

	return limit
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '．':
		return true
	}
	return false
}

// Merge rebuilds text with each segment replaced by the corresponding entry
// of replacements. segs must come from Split(text, ...) and replacements
// must have the same length; text between segments (line breaks, blank
// lines) is copied through unchanged.
func Merge(text string, segs []Segment, replacements []string) string {
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for i, seg := range segs {
		b.WriteString(text[cursor:seg.Offset])
		if i < len(replacements) {
			b.WriteString(replacements[i])
		} else {
			b.WriteString(seg.Text)
		}
		cursor = seg.Offset + len(seg.Text)
	}
	b.WriteString(text[cursor:])
	return b.String()
}
