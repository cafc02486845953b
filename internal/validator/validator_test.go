package validator

import (
	"errors"
	"testing"
)

func TestCheck_Empty(t *testing.T) {
	v := New()

	if err := v.Check("   ", "ja"); err == nil {
		t.Error("expected error for whitespace-only input")
	}
}

func TestCheck_ShortText(t *testing.T) {
	v := New()

	if err := v.Check("Hi", "ja"); err != nil {
		t.Errorf("expected short text to pass, got %v", err)
	}
}

func TestCheck_Japanese(t *testing.T) {
	v := New()

	err := v.Check("吾輩は猫である。名前はまだ無い。どこで生れたかとんと見当がつかぬ。", "")
	if err != nil {
		t.Errorf("expected Japanese text to pass, got %v", err)
	}
}

func TestCheck_WrongLanguage(t *testing.T) {
	v := New()

	err := v.Check("This sentence is clearly written in the English language.", "ja")
	if !errors.Is(err, ErrWrongLanguage) {
		t.Fatalf("expected ErrWrongLanguage, got %v", err)
	}
	if got := err.Error(); got != "input is not in the expected language: expected ja but detected en" {
		t.Errorf("unexpected message %q", got)
	}
}
