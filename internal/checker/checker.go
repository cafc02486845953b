// Package checker checks whole documents: it splits them into segments,
// corrects the segments concurrently, reuses stored sessions, and builds
// the report.
package checker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/kosei/internal"
	"github.com/valpere/kosei/internal/chunker"
	"github.com/valpere/kosei/internal/observe"
	"github.com/valpere/kosei/internal/orchestrator"
	"github.com/valpere/kosei/internal/report"
	"github.com/valpere/kosei/internal/store"
	"github.com/valpere/kosei/internal/style"
	"github.com/valpere/kosei/internal/validator"
)

// DefaultParallel is the number of segments corrected at once.
const DefaultParallel = 4

// Runner corrects one text. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, text string) (*orchestrator.OrchestratorResult, error)
}

type Config struct {
	// MaxRunes bounds a segment; see chunker.Split.
	MaxRunes int
	// Parallel bounds concurrent segment runs.
	Parallel int
	// PolicyVersion keys the session cache.
	PolicyVersion string
	// MaxIterations is the runner's pass limit; it is part of the cache
	// key. Zero means orchestrator.DefaultMaxIterations.
	MaxIterations int
}

// Options apply to a single Check call.
type Options struct {
	Source  string
	Lint    bool
	NoCache bool
}

type Service struct {
	runner    Runner
	builder   *report.Builder
	config    Config
	store     *store.Store
	linter    *style.Linter
	validator *validator.Validator
	allowlist *Allowlist
}

// Option customises a Service.
type Option func(*Service)

// WithStore enables the session cache and history.
func WithStore(s *store.Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithLinter enables style findings for Options.Lint.
func WithLinter(l *style.Linter) Option {
	return func(svc *Service) { svc.linter = l }
}

// WithAllowlist ties cached sessions to the allowlist contents. Pass the
// same Allowlist the runner consults.
func WithAllowlist(a *Allowlist) Option {
	return func(svc *Service) { svc.allowlist = a }
}

// WithValidator enables the input language check.
func WithValidator(v *validator.Validator) Option {
	return func(svc *Service) { svc.validator = v }
}

func New(runner Runner, builder *report.Builder, config Config, opts ...Option) *Service {
	if config.MaxRunes <= 0 {
		config.MaxRunes = chunker.DefaultMaxRunes
	}
	if config.Parallel <= 0 {
		config.Parallel = DefaultParallel
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = orchestrator.DefaultMaxIterations
	}
	svc := &Service{runner: runner, builder: builder, config: config}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type segmentOutcome struct {
	result    *orchestrator.OrchestratorResult
	sessionID string
	cached    bool
}

// Check corrects text and returns the document report. A failure in any
// segment fails the whole check and cancels the remaining segments.
func (s *Service) Check(ctx context.Context, text string, opts Options) (*report.Report, error) {
	if strings.TrimSpace(text) == "" {
		return nil, orchestrator.ErrEmptyInput
	}
	log := observe.Logger(ctx)
	start := time.Now()

	if s.validator != nil {
		if err := s.validator.Check(text, validator.DefaultLanguage); err != nil {
			log.Warn("input language check failed", "error", err)
		}
	}

	segs := chunker.Split(text, s.config.MaxRunes)
	outcomes := make([]segmentOutcome, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallel)
	for i, seg := range segs {
		g.Go(func() error {
			out, err := s.checkSegment(gctx, seg.Text, opts)
			if err != nil {
				return fmt.Errorf("segment at line %d: %w", seg.Line, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &report.Report{
		Entries: make([]report.Entry, 0),
		Cached:  len(segs) > 0,
	}
	finals := make([]string, len(segs))
	for i, seg := range segs {
		out := outcomes[i]
		res := out.result
		finals[i] = res.FinalText

		rep.Entries = append(rep.Entries, s.builder.Entries(res, origin(text, seg))...)
		rep.Records = append(rep.Records, res.Errors...)
		rep.Warnings = append(rep.Warnings, res.Warnings...)
		rep.Iterations = max(rep.Iterations, res.Iterations)
		rep.Exhausted = rep.Exhausted || res.Exhausted
		rep.Cached = rep.Cached && out.cached
		if out.sessionID != "" {
			rep.Sessions = append(rep.Sessions, out.sessionID)
		}
	}
	rep.FinalText = chunker.Merge(text, segs, finals)

	if opts.Lint && s.linter != nil {
		rep.Findings = s.linter.Lint(text)
	}
	rep.Elapsed = time.Since(start)

	log.Info("document checked",
		"segments", len(segs),
		"records", len(rep.Records),
		"exhausted", rep.Exhausted,
		"elapsed", rep.Elapsed)
	return rep, nil
}

// cacheKey captures the settings a run depends on besides its text.
func (s *Service) cacheKey() store.CacheKey {
	allow := "none"
	if s.allowlist != nil {
		allow = s.allowlist.Revision()
	}
	return store.CacheKey{
		PolicyVersion: s.config.PolicyVersion,
		Settings:      fmt.Sprintf("max=%d;allow=%s", s.config.MaxIterations, allow),
	}
}

func (s *Service) checkSegment(ctx context.Context, text string, opts Options) (segmentOutcome, error) {
	log := observe.Logger(ctx)
	key := s.cacheKey()

	if s.store != nil && !opts.NoCache {
		id, res, found, err := s.store.GetCachedSession(ctx, text, key)
		if err != nil {
			log.Warn("session cache lookup failed", "error", err)
		} else if found {
			log.Debug("using cached session", "session", id)
			return segmentOutcome{result: res, sessionID: id, cached: true}, nil
		}
	}

	res, err := s.runner.Run(ctx, text)
	if err != nil {
		return segmentOutcome{}, err
	}

	out := segmentOutcome{result: res}
	if s.store != nil {
		req := internal.CorrectionRequest{
			ID:        uuid.NewString(),
			Text:      text,
			Source:    opts.Source,
			Timestamp: time.Now(),
		}
		if err := s.store.SaveSession(ctx, req, key, res); err != nil {
			log.Warn("failed to save session", "error", err)
		} else {
			out.sessionID = req.ID
		}
	}
	return out, nil
}

// origin returns the document position where seg starts.
func origin(text string, seg chunker.Segment) report.Origin {
	lineStart := strings.LastIndexByte(text[:seg.Offset], '\n') + 1
	return report.Origin{
		Line:   seg.Line,
		Column: utf8.RuneCountInString(text[lineStart:seg.Offset]) + 1,
	}
}

// Allowlist is a concurrency-safe set of terms exempt from correction.
// Its Contains method is meant for orchestrator.OrchestratorConfig.Allow.
type Allowlist struct {
	mu       sync.RWMutex
	terms    map[string]struct{}
	revision string
}

func NewAllowlist(terms map[string]struct{}) *Allowlist {
	a := &Allowlist{}
	a.Replace(terms)
	return a
}

func (a *Allowlist) Contains(term string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.terms[term]
	return ok
}

func (a *Allowlist) Replace(terms map[string]struct{}) {
	if terms == nil {
		terms = map[string]struct{}{}
	}
	rev := revision(terms)
	a.mu.Lock()
	a.terms = terms
	a.revision = rev
	a.mu.Unlock()
}

// Revision identifies the current set of terms: equal sets give equal
// revisions, in any process.
func (a *Allowlist) Revision() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.revision
}

func revision(terms map[string]struct{}) string {
	if len(terms) == 0 {
		return "none"
	}
	h := sha256.New()
	for _, term := range slices.Sorted(maps.Keys(terms)) {
		h.Write([]byte(term))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Reload replaces the set with the store's allowlist.
func (a *Allowlist) Reload(ctx context.Context, s *store.Store) error {
	if s == nil {
		return errors.New("allowlist: no store configured")
	}
	terms, err := s.AllowSet(ctx)
	if err != nil {
		return fmt.Errorf("failed to load allowlist: %w", err)
	}
	a.Replace(terms)
	return nil
}
