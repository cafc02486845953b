package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/policy"
	"github.com/valpere/kosei/internal/style"
	"github.com/valpere/kosei/internal/tokens"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	tbl, err := policy.New("test", []policy.Rule{
		{Label: "OK", Policy: policy.None},
		{Label: "deletion", Policy: policy.Delete, Message: "脱字があります。"},
		{Label: "others", Policy: policy.Replace},
	})
	if err != nil {
		t.Fatalf("policy.New failed: %v", err)
	}
	return NewBuilder(tokens.Japanese(), tbl)
}

func TestLocate(t *testing.T) {
	b := testBuilder(t)
	pass := orchestrator.Pass{
		Text:   "一行目\n私はいぬです",
		Tokens: []string{"一", "行目", "私", "は", "いぬ", "##です"},
	}

	line, col, ok := b.Locate(pass, orchestrator.ErrorRecord{Position: 4})
	if !ok || line != 2 || col != 3 {
		t.Errorf("expected 2:3, got %d:%d ok=%v", line, col, ok)
	}

	line, col, ok = b.Locate(pass, orchestrator.ErrorRecord{Position: 1})
	if !ok || line != 1 || col != 2 {
		t.Errorf("expected 1:2, got %d:%d ok=%v", line, col, ok)
	}

	if _, _, ok := b.Locate(pass, orchestrator.ErrorRecord{Position: 9}); ok {
		t.Error("expected out-of-range position to fail")
	}
}

func TestEntries(t *testing.T) {
	b := testBuilder(t)
	res := &orchestrator.OrchestratorResult{
		Passes: []orchestrator.Pass{
			{Index: 0, Text: "私はいぬです", Tokens: []string{"私", "は", "いぬ", "です"}},
			{Index: 1, Text: "私は猫す", Tokens: []string{"私", "は", "猫", "す"}},
		},
		Errors: []orchestrator.ErrorRecord{
			{Pass: 0, Position: 2, Character: "いぬ", Kind: "others", Policy: policy.Replace},
			{Pass: 1, Position: 3, Character: "##す", Kind: "deletion", Policy: policy.Delete},
		},
	}

	entries := b.Entries(res, Origin{Line: 5, Column: 10})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Line != 5 || first.Column != 12 || first.Message != DefaultMessage {
		t.Errorf("unexpected first entry %+v", first)
	}
	second := entries[1]
	if second.Character != "す" || second.Message != "脱字があります。" || second.Pass != 1 {
		t.Errorf("unexpected second entry %+v", second)
	}
}

func TestWriteText(t *testing.T) {
	r := &Report{
		Entries: []Entry{{Line: 1, Column: 3, Message: "誤字があります。", Character: "いぬ"}},
		Findings: []style.Finding{
			{Message: "開いたほうが良い漢字があります: 下さい"},
		},
		Warnings:   []orchestrator.DriftWarning{{Pass: 0, Expected: 1, Found: 0}},
		Iterations: 10,
		Exhausted:  true,
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, r); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"行: 1 列: 3 エラー: 誤字があります。「いぬ」",
		"開いたほうが良い漢字があります: 下さい",
		"注意: マスクの補完がずれました",
		"10回の修正で収束しませんでした",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteText_Clean(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, &Report{FinalText: "私は猫です"}); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if !strings.Contains(buf.String(), "誤りは見つかりませんでした") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	r := &Report{FinalText: "<私>", Entries: []Entry{{Line: 1, Column: 1, Kind: "others"}}}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"final_text": "<私>"`) {
		t.Errorf("expected unescaped text, got %s", buf.String())
	}

	var back Report
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(back.Entries) != 1 || back.Entries[0].Kind != "others" {
		t.Errorf("unexpected round trip %+v", back)
	}
}

func TestWriteDump(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteDump(&buf, "私は猫です", nil); err != nil {
		t.Fatalf("WriteDump failed: %v", err)
	}
	var d Dump
	if err := json.Unmarshal(buf.Bytes(), &d); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if d.FinalText != "私は猫です" || d.Errors == nil || len(d.Errors) != 0 {
		t.Errorf("unexpected dump %+v", d)
	}
}
