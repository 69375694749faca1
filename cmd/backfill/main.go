// Command backfill replays reports saved in the history database into the
// Neo4j failure graph and the Qdrant similarity index. Use it after enabling
// a backend on an installation that already has history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/graph"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/semantic"
	"github.com/WessleyAI/diagtrace/pkg/config"
	"github.com/WessleyAI/diagtrace/pkg/logging"
	"github.com/WessleyAI/diagtrace/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (default $DIAG_CONFIG)")
		limit      = flag.Int("limit", 10000, "maximum sessions to replay, newest first")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format, "diag-backfill")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *limit, log); err != nil {
		log.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, limit int, log *slog.Logger) error {
	if cfg.History.Path == "" {
		return fmt.Errorf("no history database configured (set DIAG_HISTORY_DB or history.path)")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := cfg.AnalyzerOptions()
	if err != nil {
		return err
	}

	var sinks []sink
	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		gs := graph.NewWithOpener(repo.DriverOpener{Driver: driver, Database: cfg.Neo4j.Database}, opts.Tables)
		if err := gs.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, sink{name: "neo4j", save: gs.SaveReport})
	}
	if cfg.Qdrant.Addr != "" {
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vs.Close()
		if err := vs.EnsureCollection(ctx); err != nil {
			return err
		}
		sinks = append(sinks, sink{name: "qdrant", save: vs.Index})
	}
	if len(sinks) == 0 {
		return fmt.Errorf("nothing to backfill into: set NEO4J_URL or QDRANT_URL")
	}

	st, err := backfill(ctx, store, sinks, limit, log)
	if err != nil {
		return err
	}
	log.Info("done", "replayed", st.replayed, "errors", st.errors, "total", st.total)
	return nil
}

type source interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
	Get(ctx context.Context, sessionID string) (*domain.RootCauseReport, error)
}

type sink struct {
	name string
	save func(ctx context.Context, source string, r *domain.RootCauseReport) error
}

type stats struct {
	total, replayed, errors int
}

// backfill replays up to limit saved sessions into every sink. A session
// counts as replayed only when every sink accepted it.
func backfill(ctx context.Context, src source, sinks []sink, limit int, log *slog.Logger) (stats, error) {
	entries, err := src.List(ctx, limit)
	if err != nil {
		return stats{}, err
	}
	st := stats{total: len(entries)}
	log.Info("replaying saved sessions", "count", len(entries))

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		r, err := src.Get(ctx, e.SessionID)
		if err != nil {
			log.Warn("load failed", "session_id", e.SessionID, "err", err)
			st.errors++
			continue
		}
		ok := true
		for _, s := range sinks {
			if err := s.save(ctx, e.Source, r); err != nil {
				log.Warn("save failed", "sink", s.name, "session_id", e.SessionID, "err", err)
				ok = false
			}
		}
		if !ok {
			st.errors++
			continue
		}
		st.replayed++
		if (i+1)%100 == 0 {
			log.Info("progress", "replayed", st.replayed, "errors", st.errors, "of", st.total)
		}
	}
	return st, nil
}
