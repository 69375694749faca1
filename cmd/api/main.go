// Package main implements the diagtrace HTTP API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/explain"
	"github.com/WessleyAI/diagtrace/engine/graph"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/semantic"
	"github.com/WessleyAI/diagtrace/pkg/config"
	"github.com/WessleyAI/diagtrace/pkg/logging"
	"github.com/WessleyAI/diagtrace/pkg/metrics"
	"github.com/WessleyAI/diagtrace/pkg/mid"
	"github.com/WessleyAI/diagtrace/pkg/repo"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $DIAG_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format, "diag-api")

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	srv, cleanup, err := build(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.OTel("diag-api"),
		mid.CORS(cfg.API.CORSOrigin),
		mid.MaxBody(cfg.API.MaxBodyBytes),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.API.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// build wires the analyzer and every configured backend. Backends without
// an address stay nil and their endpoints answer 501.
func build(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) (*server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	opts, err := cfg.AnalyzerOptions()
	if err != nil {
		return fail(err)
	}
	opts.Observer = reg
	opts.Logger = logger

	cache, err := lru.New[string, *domain.RootCauseReport](max(cfg.API.CacheSize, 1))
	if err != nil {
		return fail(fmt.Errorf("report cache: %w", err))
	}
	srv := &server{cache: cache, metrics: reg, log: logger}

	// --- History (SQLite) ---
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { store.Close() })
		srv.history = store
		opts.Baseline = store
	}

	// --- Neo4j ---
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return fail(fmt.Errorf("neo4j driver: %w", err))
		}
		closers = append(closers, func() { driver.Close(context.Background()) })
		gs := graph.NewWithOpener(repo.DriverOpener{Driver: driver, Database: cfg.Neo4j.Database}, opts.Tables)
		if err := gs.EnsureSchema(ctx); err != nil {
			logger.Warn("neo4j schema setup failed", "err", err)
		}
		srv.graph = gs
	}

	// --- Qdrant ---
	if cfg.Qdrant.Addr != "" {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return fail(fmt.Errorf("qdrant connect: %w", err))
		}
		closers = append(closers, func() { vs.Close() })
		if err := vs.EnsureCollection(ctx); err != nil {
			logger.Warn("qdrant collection setup failed", "err", err)
		}
		srv.similar = vs
	}

	// --- LLM ---
	if cfg.LLM.APIKey != "" {
		srv.explain = explain.New(explain.Config{
			APIKey:        cfg.LLM.APIKey,
			BaseURL:       cfg.LLM.BaseURL,
			Model:         cfg.LLM.Model,
			RatePerSecond: cfg.LLM.RatePerSecond,
			Timeout:       cfg.LLM.Timeout,
			Retries:       2,
		}, logger)
	}

	srv.analyzer = analyze.New(opts)
	return srv, cleanup, nil
}
