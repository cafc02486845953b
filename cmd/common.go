/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/kosei/internal/checker"
	"github.com/valpere/kosei/internal/inference"
	"github.com/valpere/kosei/internal/markdown"
	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/policy"
	"github.com/valpere/kosei/internal/report"
	"github.com/valpere/kosei/internal/store"
	"github.com/valpere/kosei/internal/style"
	"github.com/valpere/kosei/internal/tokens"
	"github.com/valpere/kosei/internal/validator"
)

// buildPredictor constructs the fill predictor named by the predictor setting.
func buildPredictor() (inference.FillPredictor, error) {
	mask := viper.GetString("mask_token")
	switch name := viper.GetString("predictor"); name {
	case "http", "":
		return inference.NewHTTPPredictor(inference.ServiceConfig{
			BaseURL: viper.GetString("predictor_url"),
			APIKey:  viper.GetString("predictor_key"),
		}, mask), nil
	case "ollama":
		return inference.NewOllamaPredictor(viper.GetString("ollama_url"), viper.GetString("ollama_model"), mask), nil
	default:
		return nil, fmt.Errorf("unknown predictor: %s (want http or ollama)", name)
	}
}

// openStore opens the session database, or returns nil when db is empty.
func openStore() (*store.Store, error) {
	path := viper.GetString("db")
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// newLinter builds the style linter from the style.* settings.
func newLinter() (*style.Linter, error) {
	seg, err := style.NewKagomeSegmenter()
	if err != nil {
		return nil, err
	}
	l := style.NewLinter(seg)
	l.MaxSentenceRunes = viper.GetInt("style.max_sentence_runes")
	if words := viper.GetStringSlice("style.discouraged"); len(words) > 0 {
		l.Discouraged = words
	}
	return l, nil
}

type pipeline struct {
	checker   *checker.Service
	allowlist *checker.Allowlist
	table     *policy.Table
}

// buildPipeline wires the policy table, model clients, orchestrator and
// checker from configuration. db may be nil.
func buildPipeline(ctx context.Context, db *store.Store, withLinter bool) (*pipeline, error) {
	table, err := policy.Load(viper.GetString("policy_table"))
	if err != nil {
		return nil, err
	}

	predictor, err := buildPredictor()
	if err != nil {
		return nil, err
	}
	classifier := inference.NewHTTPClassifier(inference.ServiceConfig{
		BaseURL: viper.GetString("classifier_url"),
		APIKey:  viper.GetString("classifier_key"),
	})

	allow := checker.NewAllowlist(nil)
	if db != nil {
		if err := allow.Reload(ctx, db); err != nil {
			return nil, err
		}
	}

	assembler := tokens.Japanese()
	orch, err := orchestrator.New(classifier, predictor, orchestrator.OrchestratorConfig{
		MaxIterations: viper.GetInt("max_iterations"),
		ModelTimeout:  viper.GetDuration("model_timeout"),
		Policies:      table,
		Assembler:     &assembler,
		Allow:         allow.Contains,
	})
	if err != nil {
		return nil, err
	}

	opts := []checker.Option{checker.WithValidator(validator.New()), checker.WithAllowlist(allow)}
	if db != nil {
		opts = append(opts, checker.WithStore(db))
	}
	if withLinter {
		l, err := newLinter()
		if err != nil {
			return nil, err
		}
		opts = append(opts, checker.WithLinter(l))
	}

	svc := checker.New(orch, report.NewBuilder(assembler, table), checker.Config{
		MaxRunes:      viper.GetInt("max_chars"),
		Parallel:      viper.GetInt("parallel"),
		PolicyVersion: table.Version(),
		MaxIterations: viper.GetInt("max_iterations"),
	}, opts...)

	slog.Debug("pipeline ready",
		"policy_table", table.Version(),
		"predictor", viper.GetString("predictor"),
		"max_iterations", viper.GetInt("max_iterations"))
	return &pipeline{checker: svc, allowlist: allow, table: table}, nil
}

// readInput reads the named file, or stdin for "" and "-". Markdown input
// is reduced to its prose.
func readInput(name string, isMarkdown bool) (string, error) {
	var data []byte
	var err error
	if name == "" || name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if isMarkdown {
		return markdown.ToPlainText(data), nil
	}
	return string(data), nil
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// shortText trims s to n runes for table output.
func shortText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
