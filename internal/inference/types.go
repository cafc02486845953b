// Package inference defines the two model capabilities the correction loop
// consumes and provides HTTP clients for them.
package inference

import (
	"context"
	"time"
)

// Label is the classifier output for one interior token.
type Label struct {
	Name  string  `json:"label"`
	Score float64 `json:"score"`
}

// SpanClassifier labels every token of a text with an error kind.
//
// Classify returns one label per token of Tokenize(text), in order, with the
// structural start/end tokens excluded from both.
type SpanClassifier interface {
	Tokenize(ctx context.Context, text string) ([]string, error)
	Classify(ctx context.Context, text string) ([]Label, error)
}

// FillPredictor is a masked language model.
//
// Predict returns, keyed by index into Tokenize(text), one replacement token
// per mask placeholder present in text.
type FillPredictor interface {
	MaskToken() string
	Tokenize(ctx context.Context, text string) ([]string, error)
	Predict(ctx context.Context, text string) (map[int]string, error)
}

// ServiceConfig holds the connection settings shared by the HTTP clients.
type ServiceConfig struct {
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`
	APIKey      string        `mapstructure:"api_key" json:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
}
