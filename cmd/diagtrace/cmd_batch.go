package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/scan"
	"github.com/spf13/cobra"
)

var batchFlags struct {
	workers int
	jsonOut bool
	save    bool
}

var batchCmd = &cobra.Command{
	Use:   "batch DIR",
	Short: "Analyze every .log and .txt file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.IntVar(&batchFlags.workers, "workers", 0, "sessions analyzed in parallel (default from config, then GOMAXPROCS)")
	f.BoolVar(&batchFlags.jsonOut, "json", false, "print results as JSON")
	f.BoolVar(&batchFlags.save, "save", false, "save every report to the history database")
}

// sessionFile reports whether name looks like a session log.
func sessionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".log", ".txt":
		return true
	}
	return false
}

func listSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && sessionFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

type batchResult struct {
	File   string                  `json:"file"`
	Report *domain.RootCauseReport `json:"report,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	paths, err := listSessionFiles(args[0])
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%s: no .log or .txt files", args[0])
	}

	// Unreadable files become failed results rather than aborting the run.
	sessions := make([]analyze.Session, 0, len(paths))
	var readErrs []analyze.Result
	for _, p := range paths {
		lines, err := scan.File(p, scan.Options{})
		if err != nil {
			readErrs = append(readErrs, analyze.Result{Name: filepath.Base(p), Err: err})
			continue
		}
		sessions = append(sessions, analyze.Session{Name: filepath.Base(p), Lines: lines})
	}

	analyzer, store, err := openAnalyzer()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	if batchFlags.save && store == nil {
		return fmt.Errorf("--save: no history database configured (set DIAG_HISTORY_DB or history.path)")
	}

	workers := batchFlags.workers
	if workers <= 0 {
		workers = cfg.Engine.Workers
	}
	results := append(analyzer.Batch(ctx, sessions, workers), readErrs...)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		if batchFlags.save {
			if err := store.Save(ctx, filepath.Join(args[0], res.Name), res.Report); err != nil {
				logger.Error("save failed", "file", res.Name, "err", err)
			}
		}
	}
	logger.Info("batch finished", "files", len(results), "failed", failed)

	out := cmd.OutOrStdout()
	if batchFlags.jsonOut {
		rows := make([]batchResult, len(results))
		for i, res := range results {
			rows[i] = batchResult{File: res.Name, Report: res.Report}
			if res.Err != nil {
				rows[i].Error = res.Err.Error()
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%-32s %-6s %-18s %s", "FILE", "ECU", "ROOT", "CONF")))
	for _, res := range results {
		renderBatchRow(out, res)
	}
	return nil
}
