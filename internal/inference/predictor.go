package inference

import (
	"context"
	"fmt"

	"github.com/valpere/kosei/internal/placeholder"
)

// HTTPPredictor is a FillPredictor served by a model sidecar exposing
// POST /tokenize and POST /fill.
type HTTPPredictor struct {
	http *jsonClient
	mask string
}

var _ FillPredictor = (*HTTPPredictor)(nil)

// NewHTTPPredictor creates a fill predictor client for cfg.BaseURL. An empty
// mask selects placeholder.DefaultMask.
func NewHTTPPredictor(cfg ServiceConfig, mask string) *HTTPPredictor {
	if mask == "" {
		mask = placeholder.DefaultMask
	}
	return &HTTPPredictor{http: newJSONClient(cfg), mask: mask}
}

// MaskToken returns the reserved mask token of the predictor vocabulary.
func (p *HTTPPredictor) MaskToken() string { return p.mask }

// Tokenize returns the predictor tokenizer's tokens for text.
func (p *HTTPPredictor) Tokenize(ctx context.Context, text string) ([]string, error) {
	var resp tokenizeResponse
	if err := p.http.post(ctx, "/tokenize", textRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("predictor tokenize: %w", err)
	}
	return resp.Tokens, nil
}

type fillResponse struct {
	Predictions []struct {
		Position int    `json:"position"`
		Token    string `json:"token"`
	} `json:"predictions"`
}

// Predict returns the most likely token for every mask in text.
func (p *HTTPPredictor) Predict(ctx context.Context, text string) (map[int]string, error) {
	var resp fillResponse
	if err := p.http.post(ctx, "/fill", textRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("predictor fill: %w", err)
	}
	out := make(map[int]string, len(resp.Predictions))
	for _, pr := range resp.Predictions {
		if _, dup := out[pr.Position]; dup {
			return nil, fmt.Errorf("predictor fill: duplicate prediction for position %d", pr.Position)
		}
		out[pr.Position] = pr.Token
	}
	return out, nil
}
