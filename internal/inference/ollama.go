package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/valpere/kosei/internal/placeholder"
	"github.com/valpere/kosei/internal/postprocess"
	"github.com/valpere/kosei/internal/tokens"
)

const defaultOllamaModel = "gemma2:9b"

// OllamaPredictor fills masks with a local Ollama model. It tokenizes one
// token per rune, keeping the mask whole, and asks the model for a JSON
// array holding one replacement per mask in reading order.
type OllamaPredictor struct {
	baseURL string
	model   string
	mask    string
	client  *http.Client
}

var _ FillPredictor = (*OllamaPredictor)(nil)

// NewOllamaPredictor creates a predictor for the given Ollama server.
func NewOllamaPredictor(baseURL, model, mask string) *OllamaPredictor {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if mask == "" {
		mask = placeholder.DefaultMask
	}
	return &OllamaPredictor{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		mask:    mask,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OllamaPredictor) MaskToken() string { return p.mask }

func (p *OllamaPredictor) Tokenize(_ context.Context, text string) ([]string, error) {
	return tokens.SplitRunes(text, p.mask), nil
}

func (p *OllamaPredictor) Predict(ctx context.Context, text string) (map[int]string, error) {
	toks := tokens.SplitRunes(text, p.mask)
	positions := placeholder.Positions(toks, p.mask)
	if len(positions) == 0 {
		return map[int]string{}, nil
	}

	ollamaReq := map[string]interface{}{
		"model":  p.model,
		"prompt": buildFillPrompt(text, p.mask, len(positions)),
		"stream": false,
		"format": "json",
	}

	jsonData, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var ollamaResp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	fills, err := parseFills(postprocess.Clean(ollamaResp.Response))
	if err != nil {
		return nil, err
	}

	// Surplus fills are dropped; missing ones leave their masks unresolved.
	out := make(map[int]string, len(positions))
	for i, pos := range positions {
		if i >= len(fills) {
			break
		}
		out[pos] = fills[i]
	}
	return out, nil
}

// parseFills accepts either a bare JSON array of strings or an object whose
// "fills" field holds one, which is what models in JSON mode tend to emit.
func parseFills(raw string) ([]string, error) {
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return arr, nil
	}

	var obj struct {
		Fills []string `json:"fills"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj.Fills != nil {
		return obj.Fills, nil
	}

	start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &arr); err == nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("ollama reply is not a JSON list of fills: %q", raw)
}

func buildFillPrompt(text, mask string, n int) string {
	return fmt.Sprintf(`You are a Japanese proofreader. The sentence below contains %d %s placeholder(s)
where a wrong or misspelled word was removed. For each placeholder, in reading order,
give the single most natural Japanese word to put there.

Sentence: %s

Respond with ONLY a JSON object of the form {"fills": ["word1", "word2"]} with exactly %d entries.`,
		n, mask, text, n)
}
