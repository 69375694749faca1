package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/graph"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/semantic"
	"github.com/WessleyAI/diagtrace/pkg/metrics"
	"github.com/WessleyAI/diagtrace/pkg/mid"
	"github.com/google/go-cmp/cmp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const sampleLog = `2024-05-01 10:00:00 Requested node(0) = 754
2024-05-01 10:00:00 heartbeat
2024-05-01 10:00:01 Security access request
2024-05-01 10:00:02 ERROR security access denied NRC = 33
2024-05-01 10:00:03 ERROR programming failed
`

type fakeGraph struct {
	saved []string
	rows  []graph.ModuleFailure
	err   error
}

func (f *fakeGraph) SaveReport(_ context.Context, _ string, r *domain.RootCauseReport) error {
	f.saved = append(f.saved, r.SessionID)
	return f.err
}

func (f *fakeGraph) ModuleFailures(context.Context, string) ([]graph.ModuleFailure, error) {
	return f.rows, f.err
}

type fakeSimilar struct {
	indexed []string
	matches []semantic.Match
	err     error
}

func (f *fakeSimilar) Index(_ context.Context, _ string, r *domain.RootCauseReport) error {
	f.indexed = append(f.indexed, r.SessionID)
	return nil
}

func (f *fakeSimilar) Similar(context.Context, *domain.RootCauseReport, int, bool) ([]semantic.Match, error) {
	return f.matches, f.err
}

type fakeExplainer struct {
	text string
	err  error
}

func (f fakeExplainer) Explain(context.Context, *domain.RootCauseReport) (string, error) {
	return f.text, f.err
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	cache, err := lru.New[string, *domain.RootCauseReport](8)
	if err != nil {
		t.Fatal(err)
	}
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := metrics.New()
	return &server{
		analyzer: analyze.New(analyze.Options{Observer: reg, Logger: log, Baseline: store}),
		cache:    cache,
		metrics:  reg,
		history:  store,
		log:      log,
	}
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAnalyzeResponse(t *testing.T, rec *httptest.ResponseRecorder) AnalyzeResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp AnalyzeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestAnalyzePlainText(t *testing.T) {
	s := newTestServer(t)
	resp := decodeAnalyzeResponse(t, do(t, s.routes(), "POST", "/api/analyze", "text/plain", sampleLog))

	r := resp.Report
	if r == nil {
		t.Fatal("no report")
	}
	if r.PrimaryModule.Address != "754" || r.PrimaryModule.IsFallback {
		t.Errorf("primary = %+v", r.PrimaryModule)
	}
	if r.RootCategory() != domain.CategorySecurity {
		t.Errorf("root = %s, want security", r.RootCategory())
	}
	if resp.Explanation != "" {
		t.Errorf("unexpected explanation %q", resp.Explanation)
	}
	if got := testutil.ToFloat64(s.metrics.Sessions); got != 1 {
		t.Errorf("sessions metric = %v", got)
	}
}

func TestAnalyzeJSONLinesMatchesText(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	lines := strings.Split(strings.TrimSpace(sampleLog), "\n")
	body, _ := json.Marshal(AnalyzeRequest{Source: "bench-7", Lines: lines})
	fromLines := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze", "application/json", string(body)))

	body, _ = json.Marshal(AnalyzeRequest{Text: sampleLog})
	fromText := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze", "application/json; charset=utf-8", string(body)))

	if fromLines.Report.RootCategory() != fromText.Report.RootCategory() ||
		fromLines.Report.PrimaryModule != fromText.Report.PrimaryModule {
		t.Fatalf("lines and text disagree:\n%+v\n%+v", fromLines.Report, fromText.Report)
	}
}

func TestAnalyzeBadRequests(t *testing.T) {
	h := newTestServer(t).routes()
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"invalid json", "application/json", "{invalid"},
		{"empty json", "application/json", "{}"},
		{"empty text", "text/plain", "   \n"},
		{"nothing diagnostic", "text/plain", "hello\nworld\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/analyze", tt.contentType, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAnalyzeTooLarge(t *testing.T) {
	h := mid.Chain(newTestServer(t).routes(), mid.MaxBody(16))
	rec := do(t, h, "POST", "/api/analyze", "text/plain", sampleLog)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestAnalyzeSaveAndFetch(t *testing.T) {
	s := newTestServer(t)
	g := &fakeGraph{}
	sim := &fakeSimilar{}
	s.graph, s.similar = g, sim
	h := s.routes()

	resp := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze?save=true&source=bench.log", "text/plain", sampleLog))
	id := resp.Report.SessionID

	if diff := cmp.Diff([]string{id}, g.saved); diff != "" {
		t.Errorf("graph exports (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{id}, sim.indexed); diff != "" {
		t.Errorf("vector index (-want +got):\n%s", diff)
	}

	// served from cache
	rec := do(t, h, "GET", "/api/reports/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if got := testutil.ToFloat64(s.metrics.CacheHits.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v", got)
	}

	// evicted from cache, still in history
	s.cache.Purge()
	rec = do(t, h, "GET", "/api/reports/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get after purge: %d", rec.Code)
	}
	var got domain.RootCauseReport
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != id {
		t.Fatalf("got session %q", got.SessionID)
	}

	rec = do(t, h, "GET", "/api/reports", "", "")
	var entries []history.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != "bench.log" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestGetReportNotFound(t *testing.T) {
	rec := do(t, newTestServer(t).routes(), "GET", "/api/reports/unknown", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOutcome(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()
	resp := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze?save=true", "text/plain", sampleLog))
	id := resp.Report.SessionID

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"recorded", id, `{"resolved":true}`, http.StatusNoContent},
		{"missing field", id, `{}`, http.StatusBadRequest},
		{"unknown session", "nope", `{"resolved":false}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "POST", "/api/reports/"+tt.id+"/outcome", "application/json", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("got %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestExplainQuery(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rec := do(t, h, "POST", "/api/analyze?explain=true&save=true", "text/plain", sampleLog)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured explain: %d", rec.Code)
	}
	entries, err := s.history.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || s.cache.Len() != 0 {
		t.Fatalf("rejected request left state behind: %d saved, %d cached", len(entries), s.cache.Len())
	}

	s.explain = fakeExplainer{text: "Security access to the telematics unit was refused."}
	resp := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze?explain=true", "text/plain", sampleLog))
	if resp.Explanation != "Security access to the telematics unit was refused." {
		t.Fatalf("explanation = %q", resp.Explanation)
	}

	s.explain = fakeExplainer{err: errors.New("upstream down")}
	resp = decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze?explain=true", "text/plain", sampleLog))
	if resp.Report == nil || resp.Explanation != "" {
		t.Fatalf("failed explain should still return the report: %+v", resp)
	}
}

func TestSimilarEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()
	resp := decodeAnalyzeResponse(t, do(t, h, "POST", "/api/analyze", "text/plain", sampleLog))
	path := "/api/reports/" + resp.Report.SessionID + "/similar"

	if rec := do(t, h, "GET", path, "", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured: %d", rec.Code)
	}

	s.similar = &fakeSimilar{matches: []semantic.Match{{SessionID: "other", Score: 0.93, Module: "754"}}}
	rec := do(t, h, "GET", path+"?k=3", "", "")
	var matches []semantic.Match
	if err := json.NewDecoder(rec.Body).Decode(&matches); err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].SessionID != "other" {
		t.Fatalf("matches = %+v", matches)
	}

	s.similar = &fakeSimilar{err: errors.New("qdrant down")}
	if rec := do(t, h, "GET", path, "", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("backend error: %d", rec.Code)
	}
}

func TestModuleFailuresEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()
	if rec := do(t, h, "GET", "/api/modules/754/failures", "", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured: %d", rec.Code)
	}

	s.graph = &fakeGraph{rows: []graph.ModuleFailure{{Category: domain.CategorySecurity, Count: 3, Roots: 2}}}
	if rec := do(t, h, "GET", "/api/modules/75/failures", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address: %d", rec.Code)
	}
	rec := do(t, h, "GET", "/api/modules/7e0/failures", "", "")
	var rows []graph.ModuleFailure
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]graph.ModuleFailure{{Category: domain.CategorySecurity, Count: 3, Roots: 2}}, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	h := mid.Chain(s.routes(), mid.Metrics(s.metrics))
	do(t, h, "GET", "/api/health", "", "")

	rec := do(t, h, "GET", "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "diagtrace_http_requests_total") {
		t.Fatalf("metrics output: %d %s", rec.Code, rec.Body.String())
	}
}
