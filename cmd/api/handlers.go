package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/graph"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/scan"
	"github.com/WessleyAI/diagtrace/engine/semantic"
	"github.com/WessleyAI/diagtrace/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// reportStore is the slice of the history store the API uses.
type reportStore interface {
	Save(ctx context.Context, source string, r *domain.RootCauseReport) error
	Get(ctx context.Context, sessionID string) (*domain.RootCauseReport, error)
	List(ctx context.Context, limit int) ([]history.Entry, error)
	RecordOutcome(ctx context.Context, sessionID string, resolved bool) error
}

type similarFinder interface {
	Index(ctx context.Context, source string, r *domain.RootCauseReport) error
	Similar(ctx context.Context, r *domain.RootCauseReport, topK int, sameModule bool) ([]semantic.Match, error)
}

type graphExporter interface {
	SaveReport(ctx context.Context, source string, r *domain.RootCauseReport) error
	ModuleFailures(ctx context.Context, address string) ([]graph.ModuleFailure, error)
}

type explainer interface {
	Explain(ctx context.Context, r *domain.RootCauseReport) (string, error)
}

// server holds the handlers' collaborators. Everything except the analyzer
// and cache is optional.
type server struct {
	analyzer *analyze.Analyzer
	cache    *lru.Cache[string, *domain.RootCauseReport]
	metrics  *metrics.Registry
	history  reportStore
	similar  similarFinder
	graph    graphExporter
	explain  explainer
	log      *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("POST /api/reports/{id}/outcome", s.handleOutcome)
	mux.HandleFunc("GET /api/reports/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /api/modules/{address}/failures", s.handleModuleFailures)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AnalyzeRequest is the JSON body for POST /api/analyze. Lines are taken
// as already filtered; Text goes through the keyword scanner.
type AnalyzeRequest struct {
	Source string   `json:"source,omitempty"`
	Text   string   `json:"text,omitempty"`
	Lines  []string `json:"lines,omitempty"`
}

// AnalyzeResponse wraps a report with the optional plain-language rewrite.
type AnalyzeResponse struct {
	Report      *domain.RootCauseReport `json:"report"`
	Explanation string                  `json:"explanation,omitempty"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	wantExplain := q.Get("explain") == "true"
	if wantExplain && s.explain == nil {
		writeError(w, http.StatusNotImplemented, "explanations are not configured")
		return
	}

	req, err := decodeAnalyze(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "log too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var lines []domain.RawLine
	if len(req.Lines) > 0 {
		lines = scan.Text(strings.Join(req.Lines, "\n"), scan.Options{All: true})
	} else {
		lines = scan.Text(req.Text, scan.Options{})
	}
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "no diagnostic lines found")
		return
	}

	ctx := r.Context()
	report, err := s.analyzer.Analyze(ctx, lines)
	if err != nil {
		s.log.ErrorContext(ctx, "analysis failed", "err", err, "lines", len(lines))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	s.cache.Add(report.SessionID, report)

	if q.Get("save") == "true" {
		s.persist(ctx, req.Source, report)
	}

	resp := AnalyzeResponse{Report: report}
	if wantExplain {
		text, err := s.explain.Explain(ctx, report)
		if err != nil {
			// the structured report is still useful without prose
			s.log.WarnContext(ctx, "explain failed", "session_id", report.SessionID, "err", err)
		} else {
			resp.Explanation = text
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// persist stores the report everywhere configured. Export failures are
// logged and never fail the request.
func (s *server) persist(ctx context.Context, source string, r *domain.RootCauseReport) {
	if s.history != nil {
		if err := s.history.Save(ctx, source, r); err != nil {
			s.log.ErrorContext(ctx, "history save failed", "session_id", r.SessionID, "err", err)
		}
	}
	if s.graph != nil {
		if err := s.graph.SaveReport(ctx, source, r); err != nil {
			s.log.ErrorContext(ctx, "graph export failed", "session_id", r.SessionID, "err", err)
		}
	}
	if s.similar != nil {
		if err := s.similar.Index(ctx, source, r); err != nil {
			s.log.ErrorContext(ctx, "vector index failed", "session_id", r.SessionID, "err", err)
		}
	}
}

func decodeAnalyze(r *http.Request) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				return req, err
			}
			return req, errors.New("invalid request body")
		}
		if req.Text == "" && len(req.Lines) == 0 {
			return req, errors.New("text or lines is required")
		}
		return req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return req, err
	}
	if strings.TrimSpace(string(body)) == "" {
		return req, errors.New("empty log")
	}
	req.Text = string(body)
	req.Source = r.URL.Query().Get("source")
	return req, nil
}

// lookup finds a report in the cache, then in history.
func (s *server) lookup(ctx context.Context, id string) (*domain.RootCauseReport, error) {
	if r, ok := s.cache.Get(id); ok {
		s.observeCache(true)
		return r, nil
	}
	s.observeCache(false)
	if s.history == nil {
		return nil, domain.ErrNotFound
	}
	r, err := s.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, r)
	return r, nil
}

func (s *server) observeCache(hit bool) {
	if s.metrics != nil {
		s.metrics.ObserveCache(hit)
	}
}

func (s *server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.ErrorContext(r.Context(), "history list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// OutcomeRequest is the JSON body for POST /api/reports/{id}/outcome.
type OutcomeRequest struct {
	Resolved *bool `json:"resolved"`
}

func (s *server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resolved == nil {
		writeError(w, http.StatusBadRequest, "resolved is required")
		return
	}
	if err := s.history.RecordOutcome(r.Context(), r.PathValue("id"), *req.Resolved); err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		writeError(w, http.StatusNotImplemented, "similarity search is not configured")
		return
	}
	report, err := s.lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	q := r.URL.Query()
	topK, _ := strconv.Atoi(q.Get("k"))
	matches, err := s.similar.Similar(r.Context(), report, topK, q.Get("same_module") == "true")
	if err != nil {
		s.log.ErrorContext(r.Context(), "similar search failed", "err", err)
		writeError(w, http.StatusBadGateway, "similarity search failed")
		return
	}
	if matches == nil {
		matches = []semantic.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *server) handleModuleFailures(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeError(w, http.StatusNotImplemented, "graph export is not configured")
		return
	}
	addr := strings.ToUpper(r.PathValue("address"))
	if !domain.ValidAddress(addr) {
		writeError(w, http.StatusBadRequest, "address must be 3 hex digits")
		return
	}
	rows, err := s.graph.ModuleFailures(r.Context(), addr)
	if err != nil {
		s.log.ErrorContext(r.Context(), "module failures failed", "address", addr, "err", err)
		writeError(w, http.StatusBadGateway, "graph query failed")
		return
	}
	if rows == nil {
		rows = []graph.ModuleFailure{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	s.log.ErrorContext(r.Context(), "report lookup failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
