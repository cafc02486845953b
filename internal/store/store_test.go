package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/valpere/kosei/internal"
	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/policy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult() *orchestrator.OrchestratorResult {
	return &orchestrator.OrchestratorResult{
		FinalText: "私は猫です",
		Passes: []orchestrator.Pass{
			{Index: 0, Text: "私はいぬです", Tokens: []string{"私", "は", "いぬ", "です"}, Masked: "私は[MASK]です", Output: "私は猫です"},
			{Index: 1, Text: "私は猫です", Tokens: []string{"私", "は", "猫", "です"}, Masked: "私は猫です", Output: "私は猫です"},
		},
		Errors: []orchestrator.ErrorRecord{
			{Pass: 0, Position: 2, Character: "いぬ", Kind: "substitution", Policy: policy.Replace, Score: 0.75},
		},
		Warnings: []orchestrator.DriftWarning{
			{Pass: 0, Expected: 1, Found: 1, Literal: 1, Ignored: []int{5}},
		},
		Iterations: 2,
		Elapsed:    1500 * time.Millisecond,
	}
}

var testKey = CacheKey{PolicyVersion: "v1", Settings: "max=10;allow=none"}

func saveSample(t *testing.T, s *Store, id, text string) {
	t.Helper()
	req := internal.CorrectionRequest{ID: id, Text: text, Source: "test", Timestamp: time.Now()}
	if err := s.SaveSession(context.Background(), req, testKey, sampleResult()); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
}

func TestStore_New(t *testing.T) {
	s := newTestStore(t)
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_SaveSession_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveSession(context.Background(), internal.CorrectionRequest{Text: "x"}, testKey, sampleResult())
	if err == nil {
		t.Error("expected error for missing id")
	}
}

func TestStore_GetSession_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveSample(t, s, "sess-1", "私はいぬです")

	entry, res, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if entry.Source != "test" || entry.Records != 1 || entry.PolicyVersion != "v1" {
		t.Errorf("unexpected entry %+v", entry)
	}

	want := sampleResult()
	if res.FinalText != want.FinalText || res.Iterations != want.Iterations || res.Elapsed != want.Elapsed {
		t.Errorf("unexpected summary %+v", res)
	}
	if !reflect.DeepEqual(res.Passes, want.Passes) {
		t.Errorf("passes differ:\n got %+v\nwant %+v", res.Passes, want.Passes)
	}
	if !reflect.DeepEqual(res.Errors, want.Errors) {
		t.Errorf("records differ:\n got %+v\nwant %+v", res.Errors, want.Errors)
	}
	if !reflect.DeepEqual(res.Warnings, want.Warnings) {
		t.Errorf("unexpected warnings %+v", res.Warnings)
	}
}

func TestStore_GetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetCachedSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveSample(t, s, "sess-1", "  私はいぬです\n")

	id, res, ok, err := s.GetCachedSession(ctx, "私はいぬです", testKey)
	if err != nil {
		t.Fatalf("GetCachedSession failed: %v", err)
	}
	if !ok || id != "sess-1" || res.FinalText != "私は猫です" {
		t.Errorf("expected cache hit, got ok=%v id=%q res=%+v", ok, id, res)
	}

	if _, _, ok, _ := s.GetCachedSession(ctx, "私はいぬです", CacheKey{PolicyVersion: "v2", Settings: testKey.Settings}); ok {
		t.Error("expected miss for a different policy version")
	}
	if _, _, ok, _ := s.GetCachedSession(ctx, "私はいぬです", CacheKey{PolicyVersion: "v1", Settings: "max=1;allow=none"}); ok {
		t.Error("expected miss for different run settings")
	}

	entry, _, _ := s.GetSession(ctx, "sess-1")
	if entry.UsageCount != 2 {
		t.Errorf("expected usage count 2, got %d", entry.UsageCount)
	}
}

func TestStore_GetCachedSession_NFC(t *testing.T) {
	s := newTestStore(t)
	// "が" precomposed vs "か" + combining voiced mark.
	saveSample(t, s, "sess-1", "\u304b\u3099っこう")

	_, _, ok, err := s.GetCachedSession(context.Background(), "がっこう", testKey)
	if err != nil {
		t.Fatalf("GetCachedSession failed: %v", err)
	}
	if !ok {
		t.Error("expected NFC-normalised text to hit the cache")
	}
}

func TestStore_InvalidateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveSample(t, s, "sess-1", "私はいぬです")

	if err := s.InvalidateSession(ctx, "sess-1"); err != nil {
		t.Fatalf("InvalidateSession failed: %v", err)
	}
	if _, _, ok, _ := s.GetCachedSession(ctx, "私はいぬです", testKey); ok {
		t.Error("expected invalidated session to be skipped")
	}
	if err := s.InvalidateSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveSample(t, s, "sess-1", "一")
	saveSample(t, s, "sess-2", "二")

	list, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}

	limited, err := s.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalSessions != 2 || stats.ActiveSessions != 2 || stats.TotalRecords != 2 || stats.TotalUsage != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveSample(t, s, "sess-1", "一")
	saveSample(t, s, "sess-2", "二")

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	n, err := s.ClearSessions(ctx)
	if err != nil {
		t.Fatalf("ClearSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 session cleared, got %d", n)
	}

	stats, _ := s.Stats(ctx)
	if stats.TotalSessions != 0 || stats.TotalRecords != 0 {
		t.Errorf("expected empty store, got %+v", stats)
	}
}

func TestStore_Allowlist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddAllowTerm(ctx, "ナツメ", "product name")
	if err != nil {
		t.Fatalf("AddAllowTerm failed: %v", err)
	}
	again, err := s.AddAllowTerm(ctx, "ナツメ", "brand")
	if err != nil {
		t.Fatalf("AddAllowTerm (update) failed: %v", err)
	}
	if again != id {
		t.Errorf("expected the existing id %q, got %q", id, again)
	}
	if _, err := s.AddAllowTerm(ctx, "  ", ""); err == nil {
		t.Error("expected error for empty term")
	}

	entries, err := s.ListAllowTerms(ctx)
	if err != nil {
		t.Fatalf("ListAllowTerms failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Note != "brand" {
		t.Errorf("unexpected entries %+v", entries)
	}

	set, err := s.AllowSet(ctx)
	if err != nil {
		t.Fatalf("AllowSet failed: %v", err)
	}
	if _, ok := set["ナツメ"]; !ok {
		t.Error("expected term in set")
	}

	if err := s.DeleteAllowTerm(ctx, "ナツメ"); err != nil {
		t.Fatalf("DeleteAllowTerm failed: %v", err)
	}
	if err := s.DeleteAllowTerm(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
