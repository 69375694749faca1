// Command worker serves diagnostic analysis over NATS and exports every
// report to the configured history, graph and vector stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/graph"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/semantic"
	"github.com/WessleyAI/diagtrace/pkg/config"
	"github.com/WessleyAI/diagtrace/pkg/logging"
	"github.com/WessleyAI/diagtrace/pkg/metrics"
	"github.com/WessleyAI/diagtrace/pkg/repo"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config (default $DIAG_CONFIG)")
		metricsAddr = flag.String("metrics", ":9091", "metrics listen address, empty to disable")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format, "diag-worker")

	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = nats.DefaultURL
	}
	reg := metrics.New()

	opts, err := cfg.AnalyzerOptions()
	if err != nil {
		return err
	}
	opts.Observer = reg
	opts.Logger = log

	w := &worker{log: log, now: time.Now}

	// --- History (SQLite) ---
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Baseline = store
		w.exporters = append(w.exporters, exporter{name: "history", save: store.Save})
	}

	// --- Neo4j ---
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j verify: %w", err)
		}
		gs := graph.NewWithOpener(repo.DriverOpener{Driver: driver, Database: cfg.Neo4j.Database}, opts.Tables)
		if err := gs.EnsureSchema(ctx); err != nil {
			return err
		}
		w.exporters = append(w.exporters, exporter{name: "neo4j", save: gs.SaveReport})
		log.Info("connected to Neo4j")
	}

	// --- Qdrant ---
	if cfg.Qdrant.Addr != "" {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		if err := vs.EnsureCollection(ctx); err != nil {
			return err
		}
		w.exporters = append(w.exporters, exporter{name: "qdrant", save: vs.Index})
		log.Info("connected to Qdrant", "collection", cfg.Qdrant.Collection)
	}

	w.analyzer = analyze.New(opts)

	// --- NATS ---
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("diag-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) { log.Info("nats reconnected", "url", c.ConnectedUrl()) }),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()
	w.nc = nc

	sub, err := w.serve(cfg.NATS.Queue)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	log.Info("worker listening", "subject", SubjectAnalyze, "queue", cfg.NATS.Queue, "exporters", len(w.exporters))

	if metricsAddr != "" {
		msrv := &http.Server{Addr: metricsAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer msrv.Close()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
