package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/scan"
	"github.com/WessleyAI/diagtrace/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectAnalyze receives AnalyzeRequest and replies with a report.
	SubjectAnalyze = "diag.analyze"
	// SubjectReport carries every finished report as a ReportEvent.
	SubjectReport = "diag.report"
)

// AnalyzeRequest is the payload of SubjectAnalyze. Lines are taken as
// already filtered; Text goes through the keyword scanner.
type AnalyzeRequest struct {
	Source string   `json:"source,omitempty"`
	Text   string   `json:"text,omitempty"`
	Lines  []string `json:"lines,omitempty"`
}

// ReportEvent is published on SubjectReport.
type ReportEvent struct {
	Source     string                  `json:"source,omitempty"`
	AnalyzedAt time.Time               `json:"analyzed_at"`
	Report     *domain.RootCauseReport `json:"report"`
}

// exporter persists a finished report somewhere.
type exporter struct {
	name string
	save func(ctx context.Context, source string, r *domain.RootCauseReport) error
}

type worker struct {
	analyzer  *analyze.Analyzer
	exporters []exporter
	nc        *nats.Conn
	log       *slog.Logger
	now       func() time.Time
}

var errNoLines = errors.New("no diagnostic lines found")

// handle analyzes one request, exports it and announces it. Export and
// publish failures are logged; the caller still gets the report.
func (w *worker) handle(ctx context.Context, req AnalyzeRequest) (*domain.RootCauseReport, error) {
	var lines []domain.RawLine
	if len(req.Lines) > 0 {
		lines = scan.Text(strings.Join(req.Lines, "\n"), scan.Options{All: true})
	} else {
		lines = scan.Text(req.Text, scan.Options{})
	}
	if len(lines) == 0 {
		return nil, errNoLines
	}

	r, err := w.analyzer.Analyze(ctx, lines)
	if err != nil {
		return nil, err
	}
	w.log.InfoContext(ctx, "session analyzed",
		"session_id", r.SessionID,
		"source", req.Source,
		"module", r.PrimaryModule.Address,
		"root", r.RootCategory(),
		"confidence", r.Confidence,
	)

	for _, e := range w.exporters {
		if err := e.save(ctx, req.Source, r); err != nil {
			w.log.ErrorContext(ctx, "export failed", "exporter", e.name, "session_id", r.SessionID, "err", err)
		}
	}

	if w.nc != nil {
		ev := ReportEvent{Source: req.Source, AnalyzedAt: w.now().UTC(), Report: r}
		if err := natsutil.Publish(ctx, w.nc, SubjectReport, ev); err != nil {
			w.log.ErrorContext(ctx, "publish report failed", "session_id", r.SessionID, "err", err)
		}
	}
	return r, nil
}

// serve registers the analysis service in queue group queue.
func (w *worker) serve(queue string) (*nats.Subscription, error) {
	return natsutil.Serve(w.nc, SubjectAnalyze, queue, w.log, w.handle)
}
