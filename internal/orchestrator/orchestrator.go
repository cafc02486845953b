// Package orchestrator runs the iterative mask-predict correction loop:
// classify tokens, delete or mask the flagged ones, let a masked language
// model fill the masks, reassemble, and repeat until the classifier flags
// nothing or the pass limit is hit.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/valpere/kosei/internal/inference"
	"github.com/valpere/kosei/internal/observe"
	"github.com/valpere/kosei/internal/placeholder"
	"github.com/valpere/kosei/internal/policy"
	"github.com/valpere/kosei/internal/tokens"
)

// DefaultMaxIterations bounds the loop when Config.MaxIterations is unset.
const DefaultMaxIterations = 10

type OrchestratorConfig struct {
	// MaxIterations is the hard pass limit.
	MaxIterations int
	// ModelTimeout bounds each model call; zero means no per-call limit.
	ModelTimeout time.Duration
	// Policies maps classifier labels to edits. Required.
	Policies *policy.Table
	// Assembler reassembles token sequences; defaults to tokens.Japanese().
	Assembler *tokens.Assembler
	// Allow, when set, exempts tokens from correction even if flagged.
	Allow func(token string) bool
}

// ErrorRecord is one flagged token. Position indexes Passes[Pass].Tokens and
// is meaningless against any other pass.
type ErrorRecord struct {
	Pass      int           `json:"pass"`
	Position  int           `json:"position"`
	Character string        `json:"character"`
	Kind      string        `json:"kind"`
	Policy    policy.Policy `json:"policy"`
	Score     float64       `json:"score"`
}

// Pass is the snapshot of one iteration.
type Pass struct {
	Index  int      `json:"index"`
	Text   string   `json:"text"`
	Tokens []string `json:"tokens"`
	Masked string   `json:"masked"`
	Output string   `json:"output"`
}

// DriftWarning reports a pass where the fill predictor's tokenization of the
// masked text did not line up with the masks that were placed. Masks left
// without a prediction stay in the output as literal mask text; Literal
// counts them.
type DriftWarning struct {
	Pass       int   `json:"pass"`
	Expected   int   `json:"expected"`
	Found      int   `json:"found"`
	Literal    int   `json:"literal"`
	Unresolved []int `json:"unresolved,omitempty"`
	Ignored    []int `json:"ignored,omitempty"`
}

func (w DriftWarning) String() string {
	return fmt.Sprintf("pass %d: placed %d mask(s), predictor saw %d, %d unresolved, %d prediction(s) ignored, %d left in text",
		w.Pass, w.Expected, w.Found, len(w.Unresolved), len(w.Ignored), w.Literal)
}

type OrchestratorResult struct {
	FinalText  string         `json:"final_text"`
	Errors     []ErrorRecord  `json:"errors"`
	Passes     []Pass         `json:"passes"`
	Warnings   []DriftWarning `json:"warnings,omitempty"`
	Iterations int            `json:"iterations"`
	// Exhausted is set when the pass limit stopped the loop before the
	// classifier came back clean.
	Exhausted bool          `json:"exhausted"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Converged reports whether the loop stopped because nothing was flagged.
func (r *OrchestratorResult) Converged() bool { return !r.Exhausted }

type Orchestrator struct {
	classifier inference.SpanClassifier
	predictor  inference.FillPredictor
	config     OrchestratorConfig
	assembler  tokens.Assembler
	metrics    *observe.Metrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records into m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an orchestrator. The classifier and predictor are shared
// read-only; one Orchestrator may serve concurrent Run calls.
func New(classifier inference.SpanClassifier, predictor inference.FillPredictor, config OrchestratorConfig, opts ...Option) (*Orchestrator, error) {
	if config.Policies == nil {
		return nil, ErrNoPolicyTable
	}
	if classifier == nil || predictor == nil {
		return nil, fmt.Errorf("orchestrator: classifier and predictor are required")
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultMaxIterations
	}

	o := &Orchestrator{
		classifier: classifier,
		predictor:  predictor,
		config:     config,
		assembler:  tokens.Japanese(),
	}
	if config.Assembler != nil {
		o.assembler = *config.Assembler
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Assembler returns the assembler used to rebuild text from tokens.
func (o *Orchestrator) Assembler() tokens.Assembler { return o.assembler }

// Policies returns the label policy table.
func (o *Orchestrator) Policies() *policy.Table { return o.config.Policies }

// Run corrects text until the classifier flags nothing or MaxIterations
// passes have run.
//
// Cancellation of ctx is observed between passes only; a pass in progress
// always completes its model calls. A model failure aborts the run and no
// partial result is returned.
func (o *Orchestrator) Run(ctx context.Context, text string) (*OrchestratorResult, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := observe.StartSpan(ctx, "correction.run",
		trace.WithAttributes(attribute.Int("text.runes", len([]rune(text)))))
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	result := &OrchestratorResult{
		Errors: make([]ErrorRecord, 0),
		Passes: make([]Pass, 0),
	}

	finish := func(outcome string) {
		result.Elapsed = time.Since(start)
		o.metrics.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		o.metrics.Passes.Record(ctx, int64(result.Iterations))
		span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("passes", result.Iterations),
			attribute.Int("records", len(result.Errors)),
		)
	}

	for i := 0; i < o.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			finish("canceled")
			return nil, fmt.Errorf("correction canceled after %d pass(es): %w", i, err)
		}

		pass, records, warning, err := o.runPass(ctx, i, text)
		if err != nil {
			finish("failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		result.Iterations++
		result.Passes = append(result.Passes, pass)

		if len(records) == 0 {
			result.FinalText = text
			finish("converged")
			log.Info("correction converged",
				"passes", result.Iterations,
				"records", len(result.Errors),
				"elapsed", time.Since(start))
			return result, nil
		}

		result.Errors = append(result.Errors, records...)
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
			o.metrics.DriftWarnings.Add(ctx, 1)
			log.Warn("mask placeholders left unresolved", "warning", warning.String())
		}
		text = pass.Output
	}

	result.FinalText = text
	result.Exhausted = true
	finish("exhausted")
	log.Info("correction stopped at pass limit",
		"passes", result.Iterations,
		"records", len(result.Errors),
		"elapsed", time.Since(start))
	return result, nil
}

// runPass performs steps one through eight of a single iteration on text.
func (o *Orchestrator) runPass(ctx context.Context, index int, text string) (Pass, []ErrorRecord, *DriftWarning, error) {
	ctx, span := observe.StartSpan(ctx, "correction.pass", trace.WithAttributes(attribute.Int("pass", index)))
	defer span.End()
	log := observe.Logger(ctx)

	pass := Pass{Index: index, Text: text, Output: text}

	toks, err := callModel(ctx, o, "classifier", "tokenize", func(ctx context.Context) ([]string, error) {
		return o.classifier.Tokenize(ctx, text)
	})
	if err != nil {
		return pass, nil, nil, err
	}
	labels, err := callModel(ctx, o, "classifier", "classify", func(ctx context.Context) ([]inference.Label, error) {
		return o.classifier.Classify(ctx, text)
	})
	if err != nil {
		return pass, nil, nil, err
	}
	if len(labels) != len(toks) {
		return pass, nil, nil, fmt.Errorf("%w: %w: %d labels for %d tokens", ErrModelInvocation, ErrMisaligned, len(labels), len(toks))
	}
	pass.Tokens = slices.Clone(toks)

	mask := o.predictor.MaskToken()
	work := slices.Clone(toks)
	var records []ErrorRecord
	masked := 0

	for i, label := range labels {
		rule, ok := o.config.Policies.Lookup(label.Name)
		if !ok {
			return pass, nil, nil, fmt.Errorf("%w: %q (table %s)", ErrUnmappedLabel, label.Name, o.config.Policies.Version())
		}
		if rule.Policy == policy.None {
			continue
		}
		if o.config.Allow != nil && o.config.Allow(o.assembler.Surface(toks[i])) {
			continue
		}

		records = append(records, ErrorRecord{
			Pass:      index,
			Position:  i,
			Character: toks[i],
			Kind:      label.Name,
			Policy:    rule.Policy,
			Score:     label.Score,
		})
		o.metrics.Records.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", label.Name),
			attribute.String("policy", string(rule.Policy)),
		))

		switch rule.Policy {
		case policy.Delete:
			work[i] = ""
		case policy.Replace:
			work[i] = mask
			masked++
		}
	}

	work = tokens.Compact(work)
	pass.Masked = o.assembler.Join(work)
	log.Debug("masked text", "pass", index, "records", len(records), "masked", pass.Masked)

	if len(records) == 0 {
		pass.Masked = text
		return pass, nil, nil, nil
	}

	if masked == 0 {
		pass.Output = pass.Masked
		log.Debug("completed text", "pass", index, "text", pass.Output)
		return pass, records, nil, nil
	}

	ptoks, err := callModel(ctx, o, "predictor", "tokenize", func(ctx context.Context) ([]string, error) {
		return o.predictor.Tokenize(ctx, pass.Masked)
	})
	if err != nil {
		return pass, nil, nil, err
	}
	predictions, err := callModel(ctx, o, "predictor", "predict", func(ctx context.Context) (map[int]string, error) {
		return o.predictor.Predict(ctx, pass.Masked)
	})
	if err != nil {
		return pass, nil, nil, err
	}

	// The predictor's tokens only locate its predictions; the output is
	// rebuilt from the classifier-side slots, unflagged tokens unchanged.
	filled := placeholder.Fill(ptoks, mask, predictions)
	pass.Output = o.assembler.Join(placeholder.Apply(work, mask, filled.Values))
	log.Debug("completed text", "pass", index, "text", pass.Output)

	literal := placeholder.Residual(pass.Output, mask) - placeholder.Residual(text, mask)
	var warning *DriftWarning
	if !filled.Clean() || filled.Masks != masked || literal > 0 {
		warning = &DriftWarning{
			Pass:       index,
			Expected:   masked,
			Found:      filled.Masks,
			Literal:    max(literal, 0),
			Unresolved: filled.Unresolved,
			Ignored:    filled.Ignored,
		}
		span.AddEvent("tokenization drift")
	}
	return pass, records, warning, nil
}

// callModel runs one model call detached from the caller's cancellation, so
// a pass is never abandoned halfway, and bounded by ModelTimeout.
func callModel[T any](ctx context.Context, o *Orchestrator, model, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx := context.WithoutCancel(ctx)
	if o.config.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.config.ModelTimeout)
		defer cancel()
	}

	start := time.Now()
	v, err := fn(callCtx)
	o.metrics.ModelDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("op", op),
	))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s %s: %w", ErrModelInvocation, model, op, err)
	}
	return v, nil
}
