package inference

import (
	"context"
	"fmt"
)

// HTTPClassifier is a SpanClassifier served by a model sidecar exposing
// POST /tokenize and POST /classify.
type HTTPClassifier struct {
	http *jsonClient
}

var _ SpanClassifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier creates a classifier client for cfg.BaseURL.
func NewHTTPClassifier(cfg ServiceConfig) *HTTPClassifier {
	return &HTTPClassifier{http: newJSONClient(cfg)}
}

// Tokenize returns the classifier tokenizer's tokens for text.
func (c *HTTPClassifier) Tokenize(ctx context.Context, text string) ([]string, error) {
	var resp tokenizeResponse
	if err := c.http.post(ctx, "/tokenize", textRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("classifier tokenize: %w", err)
	}
	return resp.Tokens, nil
}

type classifyResponse struct {
	Labels []Label `json:"labels"`
}

// Classify returns one label per interior token of text.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) ([]Label, error) {
	var resp classifyResponse
	if err := c.http.post(ctx, "/classify", textRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("classifier classify: %w", err)
	}
	for i, l := range resp.Labels {
		if l.Name == "" {
			return nil, fmt.Errorf("classifier classify: label %d is empty", i)
		}
	}
	return resp.Labels, nil
}
