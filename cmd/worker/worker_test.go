package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/pkg/natsutil"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

var sessionLines = []string{
	"Requested node(0) = 754",
	"ERROR security access denied NRC = 33",
	"ERROR programming failed",
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func newWorker(t *testing.T, nc *nats.Conn) *worker {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &worker{
		analyzer: analyze.New(analyze.Options{Logger: log}),
		nc:       nc,
		log:      log,
		now:      func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) },
	}
}

func TestServeAnalyzeAndPublish(t *testing.T) {
	nc := startNATS(t)
	w := newWorker(t, nc)

	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	var failed atomic.Int32
	w.exporters = []exporter{
		{name: "history", save: store.Save},
		{name: "broken", save: func(context.Context, string, *domain.RootCauseReport) error {
			failed.Add(1)
			return errors.New("down")
		}},
	}

	events := make(chan ReportEvent, 1)
	evSub, err := natsutil.Subscribe(nc, SubjectReport, func(_ context.Context, ev ReportEvent) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer evSub.Unsubscribe()

	sub, err := w.serve("workers")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := natsutil.Request[AnalyzeRequest, *domain.RootCauseReport](ctx, nc, SubjectAnalyze,
		AnalyzeRequest{Source: "bay-3", Lines: sessionLines})
	if err != nil {
		t.Fatal(err)
	}
	if r.PrimaryModule.Address != "754" || r.RootCategory() != domain.CategorySecurity {
		t.Fatalf("report = %+v", r)
	}

	select {
	case ev := <-events:
		if ev.Source != "bay-3" || ev.Report.SessionID != r.SessionID || !ev.AnalyzedAt.Equal(w.now()) {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no report event")
	}

	if _, err := store.Get(ctx, r.SessionID); err != nil {
		t.Fatalf("history export: %v", err)
	}
	if n := failed.Load(); n != 1 {
		t.Fatalf("broken exporter called %d times", n)
	}
}

func TestServeRejectsEmptySession(t *testing.T) {
	nc := startNATS(t)
	w := newWorker(t, nc)
	sub, err := w.serve("")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_, err = natsutil.Request[AnalyzeRequest, *domain.RootCauseReport](context.Background(), nc, SubjectAnalyze,
		AnalyzeRequest{Text: "nothing to see\njust chatter\n"})
	var remote *natsutil.RemoteError
	if !errors.As(err, &remote) || remote.Msg != errNoLines.Error() {
		t.Fatalf("got %v, want remote %q", err, errNoLines)
	}
}

func TestHandleWithoutConnection(t *testing.T) {
	w := newWorker(t, nil)
	r, err := w.handle(context.Background(), AnalyzeRequest{Text: "Requested node(0) = 727\nERROR battery voltage: 11.2V\n"})
	if err != nil {
		t.Fatal(err)
	}
	if r.RootCategory() != domain.CategoryPowerVoltage {
		t.Fatalf("root = %s", r.RootCategory())
	}
}
