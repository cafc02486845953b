package chunker_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/valpere/kosei/internal/chunker"
)

// --- Split tests ---

func TestSplit_ShortText(t *testing.T) {
	text := "私は猫です。"
	segs := chunker.Split(text, 100)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Text != text || segs[0].Line != 1 || segs[0].Offset != 0 {
		t.Errorf("unexpected segment %+v", segs[0])
	}
}

func TestSplit_Lines(t *testing.T) {
	text := "一行目です。\n\n三行目です。\r\n四行目"
	segs := chunker.Split(text, 100)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}

	wantLines := []int{1, 3, 4}
	wantText := []string{"一行目です。", "三行目です。", "四行目"}
	for i, seg := range segs {
		if seg.Line != wantLines[i] {
			t.Errorf("segment %d: expected line %d, got %d", i, wantLines[i], seg.Line)
		}
		if seg.Text != wantText[i] {
			t.Errorf("segment %d: expected %q, got %q", i, wantText[i], seg.Text)
		}
		if text[seg.Offset:seg.Offset+len(seg.Text)] != seg.Text {
			t.Errorf("segment %d: offset %d does not point at its text", i, seg.Offset)
		}
	}
}

func TestSplit_SentenceBoundary(t *testing.T) {
	text := "今日は晴れです。明日は雨です。明後日は雪です。"
	segs := chunker.Split(text, 10)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	for i, seg := range segs {
		if !strings.HasSuffix(seg.Text, "。") {
			t.Errorf("segment %d should end at a sentence boundary: %q", i, seg.Text)
		}
		if seg.Line != 1 {
			t.Errorf("segment %d: expected line 1, got %d", i, seg.Line)
		}
	}
}

func TestSplit_HardCut(t *testing.T) {
	text := strings.Repeat("あ", 25)
	segs := chunker.Split(text, 10)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	for i, seg := range segs {
		if n := utf8.RuneCountInString(seg.Text); n > 10 {
			t.Errorf("segment %d has %d runes, exceeds limit", i, n)
		}
	}
}

func TestSplit_Unlimited(t *testing.T) {
	text := strings.Repeat("長い文です。", 200)
	segs := chunker.Split(text, 0)
	if len(segs) != 1 {
		t.Errorf("expected 1 segment when maxRunes=0, got %d", len(segs))
	}
}

func TestSplit_Empty(t *testing.T) {
	if segs := chunker.Split("\n \n", 10); len(segs) != 0 {
		t.Errorf("expected no segments for blank text, got %+v", segs)
	}
}

// --- Merge tests ---

func TestMerge_Replacements(t *testing.T) {
	text := "私はいぬです。\n\nこれはぺんです。\n"
	segs := chunker.Split(text, 100)
	got := chunker.Merge(text, segs, []string{"私は猫です。", "これはペンです。"})
	want := "私は猫です。\n\nこれはペンです。\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMerge_Identity(t *testing.T) {
	text := "一文目。二文目。三文目。\r\n\n最後の行"
	segs := chunker.Split(text, 5)
	repl := make([]string, len(segs))
	for i, seg := range segs {
		repl[i] = seg.Text
	}
	if got := chunker.Merge(text, segs, repl); got != text {
		t.Errorf("round trip changed the text: %q", got)
	}
}

func TestMerge_MissingReplacementsKeepOriginal(t *testing.T) {
	text := "あ\nい"
	segs := chunker.Split(text, 10)
	if got := chunker.Merge(text, segs, []string{"ア"}); got != "ア\nい" {
		t.Errorf("unexpected merge result %q", got)
	}
}
