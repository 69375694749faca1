// Package analyze wires the engine stages into a single per-session
// pipeline: normalize, classify, resolve target, correlate, score,
// recommend and assemble.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/classify"
	"github.com/WessleyAI/diagtrace/engine/correlate"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/extract"
	"github.com/WessleyAI/diagtrace/engine/normalize"
	"github.com/WessleyAI/diagtrace/engine/recommend"
	"github.com/WessleyAI/diagtrace/engine/reftable"
	"github.com/WessleyAI/diagtrace/engine/report"
	"github.com/WessleyAI/diagtrace/engine/score"
	"github.com/WessleyAI/diagtrace/engine/target"
	"github.com/WessleyAI/diagtrace/pkg/fn"
	"github.com/google/uuid"
)

// sessionNamespace seeds deterministic session IDs.
var sessionNamespace = uuid.MustParse("6f1c2a4e-3d0b-5e7a-9c41-8b2d7f0e5a13")

// Observer receives one call per finished analysis.
type Observer interface {
	ObserveAnalysis(category string, confidence float64, events int, d time.Duration)
	ObserveFailure()
}

// Options configures an Analyzer. Zero values select the defaults.
type Options struct {
	Tables       *reftable.Tables
	Edges        []correlate.Edge
	Window       correlate.Window
	Normalize    normalize.Options
	ExcerptLimit int
	Baseline     recommend.Baseline
	Observer     Observer
	Logger       *slog.Logger
}

// Analyzer holds only read-only collaborators and may run many sessions
// concurrently.
type Analyzer struct {
	tables   *reftable.Tables
	norm     *normalize.Normalizer
	classify *classify.Classifier
	resolver *target.Resolver
	corr     *correlate.Correlator
	rec      *recommend.Synthesizer
	asm      *report.Assembler
	observer Observer
	log      *slog.Logger

	pipeline fn.Stage[*session, *domain.RootCauseReport]
}

// session carries intermediate results between stages.
type session struct {
	lines      []domain.RawLine
	events     []domain.DiagnosticEvent
	errors     []domain.ClassifiedError
	primary    domain.PrimaryModule
	chain      domain.CausalChain
	confidence float64
	recs       []domain.Recommendation
}

// New builds an Analyzer.
func New(opts Options) *Analyzer {
	if opts.Tables == nil {
		opts.Tables = reftable.Default()
	}
	if opts.Edges == nil {
		opts.Edges = correlate.DefaultEdges()
	}
	if opts.Window == (correlate.Window{}) {
		opts.Window = correlate.DefaultWindow()
	}
	if opts.Normalize == (normalize.Options{}) {
		opts.Normalize = normalize.DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &Analyzer{
		tables:   opts.Tables,
		norm:     normalize.New(extract.New(opts.Tables), opts.Normalize),
		classify: classify.New(opts.Tables),
		resolver: target.New(opts.Tables),
		corr:     correlate.New(correlate.NewGraph(opts.Edges), opts.Window),
		rec:      recommend.New(opts.Baseline),
		asm:      report.New(opts.Tables, opts.ExcerptLimit),
		observer: opts.Observer,
		log:      opts.Logger,
	}
	a.pipeline = a.build()
	return a
}

func (a *Analyzer) build() fn.Stage[*session, *domain.RootCauseReport] {
	stages := fn.Pipeline(
		fn.TracedStage("diag.normalize", fn.MapStage(func(s *session) *session {
			s.events = a.norm.Normalize(s.lines)
			return s
		})),
		fn.TracedStage("diag.classify", fn.MapStage(func(s *session) *session {
			s.errors = a.classify.Classify(s.events)
			return s
		})),
		fn.TracedStage("diag.target", fn.MapStage(func(s *session) *session {
			s.primary = a.resolver.Resolve(s.events)
			return s
		})),
		fn.TracedStage("diag.correlate", fn.MapStage(func(s *session) *session {
			s.chain = a.corr.Correlate(s.errors)
			return s
		})),
		fn.TracedStage("diag.score", fn.MapStage(func(s *session) *session {
			s.confidence = score.Confidence(s.chain, len(s.events))
			return s
		})),
		fn.TracedStage("diag.recommend", func(ctx context.Context, s *session) fn.Result[*session] {
			s.recs = a.rec.Recommend(ctx, s.chain)
			return fn.Ok(s)
		}),
	)
	assemble := fn.TracedStage("diag.assemble", func(_ context.Context, s *session) fn.Result[*domain.RootCauseReport] {
		return fn.FromPair(a.asm.Assemble(report.Input{
			SessionID:       SessionID(s.lines),
			Events:          s.events,
			Errors:          s.errors,
			Primary:         s.primary,
			Chain:           s.chain,
			Confidence:      s.confidence,
			Recommendations: s.recs,
		}))
	})
	return fn.Then(stages, assemble)
}

// Analyze runs one session. It fails only when ctx is done or the assembled
// report would violate the prose invariant; noisy input always yields a
// report.
func (a *Analyzer) Analyze(ctx context.Context, lines []domain.RawLine) (*domain.RootCauseReport, error) {
	start := time.Now()
	r, err := a.pipeline(ctx, &session{lines: lines}).Unwrap()
	if err != nil {
		if a.observer != nil {
			a.observer.ObserveFailure()
		}
		return nil, fmt.Errorf("analyze: %w", err)
	}

	elapsed := time.Since(start)
	if a.observer != nil {
		a.observer.ObserveAnalysis(string(r.RootCategory()), r.Confidence, r.EventCount, elapsed)
	}
	a.log.DebugContext(ctx, "session analyzed",
		"session_id", r.SessionID,
		"events", r.EventCount,
		"root", r.RootCategory(),
		"module", r.PrimaryModule.Address,
		"confidence", r.Confidence,
		"duration", elapsed,
	)
	return r, nil
}

// AnalyzeText splits text into lines and analyzes every non-blank one.
// Line numbers are 1-based positions in text.
func (a *Analyzer) AnalyzeText(ctx context.Context, text string) (*domain.RootCauseReport, error) {
	var lines []domain.RawLine
	for i, l := range strings.Split(text, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, domain.RawLine{LineNumber: i + 1, Text: l})
	}
	return a.Analyze(ctx, lines)
}

// Tables returns the reference tables the analyzer was built with.
func (a *Analyzer) Tables() *reftable.Tables { return a.tables }

// SessionID derives a stable ID from the input lines.
func SessionID(lines []domain.RawLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(strconv.Itoa(l.LineNumber))
		b.WriteByte('\t')
		b.WriteString(l.Timestamp)
		b.WriteByte('\t')
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return uuid.NewSHA1(sessionNamespace, []byte(b.String())).String()
}
