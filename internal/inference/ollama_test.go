package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestOllamaPredictor_New(t *testing.T) {
	p := NewOllamaPredictor("", "", "")

	if p.baseURL != "http://localhost:11434" {
		t.Errorf("expected default baseURL, got %q", p.baseURL)
	}
	if p.model != defaultOllamaModel {
		t.Errorf("expected default model, got %q", p.model)
	}
	if p.MaskToken() != "[MASK]" {
		t.Errorf("expected default mask, got %q", p.MaskToken())
	}
	if p.client == nil {
		t.Error("expected non-nil HTTP client")
	}
}

func TestOllamaPredictor_Tokenize(t *testing.T) {
	p := NewOllamaPredictor("", "", "")
	toks, err := p.Tokenize(context.Background(), "私は[MASK]")
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if !reflect.DeepEqual(toks, []string{"私", "は", "[MASK]"}) {
		t.Errorf("unexpected tokens %q", toks)
	}
}

func TestOllamaPredictor_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)

		if req["model"] != "gemma2:9b" {
			t.Errorf("expected model 'gemma2:9b', got %v", req["model"])
		}
		if req["stream"] != false {
			t.Error("expected stream=false")
		}
		prompt, _ := req["prompt"].(string)
		if !strings.Contains(prompt, "私は[MASK]が[MASK]です") {
			t.Errorf("prompt does not carry the masked text: %q", prompt)
		}

		json.NewEncoder(w).Encode(map[string]string{
			"response": "```json\n{\"fills\": [\"猫\", \"好き\"]}\n```",
		})
	}))
	defer server.Close()

	p := NewOllamaPredictor(server.URL, "gemma2:9b", "")
	preds, err := p.Predict(context.Background(), "私は[MASK]が[MASK]です")
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	want := map[int]string{2: "猫", 4: "好き"}
	if !reflect.DeepEqual(preds, want) {
		t.Errorf("expected %v, got %v", want, preds)
	}
}

func TestOllamaPredictor_Predict_FewerFills(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"response": `["猫"]`})
	}))
	defer server.Close()

	p := NewOllamaPredictor(server.URL, "", "")
	preds, err := p.Predict(context.Background(), "[MASK]と[MASK]")
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if !reflect.DeepEqual(preds, map[int]string{0: "猫"}) {
		t.Errorf("unexpected predictions %v", preds)
	}
}

func TestOllamaPredictor_Predict_NoMasks(t *testing.T) {
	p := NewOllamaPredictor("http://127.0.0.1:1", "", "")
	preds, err := p.Predict(context.Background(), "私は猫です")
	if err != nil {
		t.Fatalf("expected no call and no error, got %v", err)
	}
	if len(preds) != 0 {
		t.Errorf("expected no predictions, got %v", preds)
	}
}

func TestOllamaPredictor_Predict_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaPredictor(server.URL, "", "")
	if _, err := p.Predict(context.Background(), "[MASK]"); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestParseFills(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"array", `["a","b"]`, []string{"a", "b"}, false},
		{"object", `{"fills":["a"]}`, []string{"a"}, false},
		{"embedded array", `answer ["a"] done`, []string{"a"}, false},
		{"garbage", `no list here`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFills(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFills(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFills(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
