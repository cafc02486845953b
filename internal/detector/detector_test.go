package detector

import (
	"testing"
)

func TestDetector_Detect(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantLang string
		wantOK   bool
	}{
		{
			name:   "empty text",
			text:   "",
			wantOK: false,
		},
		{
			name:     "japanese text",
			text:     "吾輩は猫である。名前はまだ無い。どこで生れたかとんと見当がつかぬ。",
			wantLang: "Japanese",
			wantOK:   true,
		},
		{
			name:     "english text",
			text:     "Hello, this is a test in English.",
			wantLang: "English",
			wantOK:   true,
		},
		{
			name:     "korean text",
			text:     "안녕하세요, 이것은 한국어 테스트입니다.",
			wantLang: "Korean",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, ok := d.Detect(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Detect(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if ok && lang.String() != tt.wantLang {
				t.Errorf("Detect(%q) = %v, want %v", tt.text, lang, tt.wantLang)
			}
		})
	}
}

func TestDetector_DetectISO(t *testing.T) {
	d := New()

	iso, ok := d.DetectISO("今日はとても良い天気ですね。散歩に行きましょう。")
	if !ok {
		t.Fatal("expected detection to succeed")
	}
	if iso != "JA" {
		t.Errorf("expected JA, got %s", iso)
	}

	if _, ok := d.DetectISO(""); ok {
		t.Error("expected empty text to fail detection")
	}
}
