// Package report turns correction results into user-facing entries with
// line and column positions and writes them as text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/policy"
	"github.com/valpere/kosei/internal/style"
	"github.com/valpere/kosei/internal/tokens"
)

// DefaultMessage is shown for labels the policy table has no message for.
const DefaultMessage = "誤字があります。"

// Origin is the 1-based position in the document where a checked text
// starts.
type Origin struct {
	Line   int
	Column int
}

// Entry is one flagged token, located in the document.
type Entry struct {
	Line      int           `json:"line"`
	Column    int           `json:"column"`
	Pass      int           `json:"pass"`
	Character string        `json:"character"`
	Kind      string        `json:"kind"`
	Policy    policy.Policy `json:"policy"`
	Score     float64       `json:"score"`
	Message   string        `json:"message"`
}

// Report is the outcome of checking one document.
type Report struct {
	Sessions   []string                    `json:"sessions,omitempty"`
	FinalText  string                      `json:"final_text"`
	Entries    []Entry                     `json:"errors"`
	Findings   []style.Finding             `json:"style,omitempty"`
	Warnings   []orchestrator.DriftWarning `json:"warnings,omitempty"`
	Iterations int                         `json:"iterations"`
	Exhausted  bool                        `json:"exhausted"`
	Elapsed    time.Duration               `json:"elapsed"`
	Cached     bool                        `json:"cached,omitempty"`

	// Records are the raw records of every run, for WriteDump.
	Records []orchestrator.ErrorRecord `json:"-"`
}

type Builder struct {
	assembler tokens.Assembler
	table     *policy.Table
}

func NewBuilder(assembler tokens.Assembler, table *policy.Table) *Builder {
	return &Builder{assembler: assembler, table: table}
}

// Locate returns the 1-based line and rune column of rec inside the text of
// the pass that produced it. ok is false when the token cannot be aligned
// with the text.
func (b *Builder) Locate(pass orchestrator.Pass, rec orchestrator.ErrorRecord) (line, col int, ok bool) {
	if rec.Position < 0 || rec.Position >= len(pass.Tokens) {
		return 0, 0, false
	}
	offset := b.assembler.Offsets(pass.Text, pass.Tokens)[rec.Position]
	if offset < 0 {
		return 0, 0, false
	}

	line, lineStart := 1, 0
	for i, r := range pass.Text[:offset] {
		if r == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return line, utf8.RuneCountInString(pass.Text[lineStart:offset]) + 1, true
}

// Entries converts the records of res into entries positioned relative to
// origin. Records from later passes are located in the text of their own
// pass, which may have shifted from the input.
func (b *Builder) Entries(res *orchestrator.OrchestratorResult, origin Origin) []Entry {
	if origin.Line <= 0 {
		origin.Line = 1
	}
	if origin.Column <= 0 {
		origin.Column = 1
	}

	entries := make([]Entry, 0, len(res.Errors))
	for _, rec := range res.Errors {
		e := Entry{
			Line:      origin.Line,
			Column:    origin.Column,
			Pass:      rec.Pass,
			Character: b.assembler.Surface(rec.Character),
			Kind:      rec.Kind,
			Policy:    rec.Policy,
			Score:     rec.Score,
			Message:   b.message(rec.Kind),
		}
		if rec.Pass < len(res.Passes) {
			if line, col, ok := b.Locate(res.Passes[rec.Pass], rec); ok {
				e.Line = origin.Line + line - 1
				e.Column = col
				if line == 1 {
					e.Column += origin.Column - 1
				}
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func (b *Builder) message(kind string) string {
	if b.table == nil {
		return DefaultMessage
	}
	return b.table.Message(kind, DefaultMessage)
}

// WriteText writes r in the line-oriented format used on the terminal.
func WriteText(w io.Writer, r *Report) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	for _, e := range r.Entries {
		printf("行: %d 列: %d エラー: %s「%s」\n", e.Line, e.Column, e.Message, e.Character)
	}
	for _, f := range r.Findings {
		printf("%s\n", f.Message)
	}
	for _, warn := range r.Warnings {
		printf("注意: マスクの補完がずれました (%s)\n", warn.String())
	}
	if r.Exhausted {
		printf("注意: %d回の修正で収束しませんでした。結果は途中経過です。\n", r.Iterations)
	}
	if len(r.Entries) == 0 && len(r.Findings) == 0 {
		printf("誤りは見つかりませんでした。\n")
	}
	return err
}

// WriteJSON writes r as indented JSON without HTML escaping.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

// Dump is the diagnostic artifact written by check --errors-json.
type Dump struct {
	FinalText string                     `json:"final_text"`
	Errors    []orchestrator.ErrorRecord `json:"errors"`
}

// WriteDump writes the final text and every raw record.
func WriteDump(w io.Writer, finalText string, records []orchestrator.ErrorRecord) error {
	if records == nil {
		records = []orchestrator.ErrorRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	return enc.Encode(Dump{FinalText: finalText, Errors: records})
}
