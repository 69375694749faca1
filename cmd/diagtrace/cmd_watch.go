package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/scan"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchFlags struct {
	debounce time.Duration
	save     bool
}

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Analyze session logs as they are written into a directory",
	Long: "Watch DIR for new or updated .log and .txt files. Each file is analyzed\n" +
		"once writes to it have settled for the debounce period.",
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.DurationVar(&watchFlags.debounce, "debounce", 500*time.Millisecond, "quiet period before a changed file is analyzed")
	f.BoolVar(&watchFlags.save, "save", false, "save every report to the history database")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer, store, err := openAnalyzer()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	if watchFlags.save && store == nil {
		return fmt.Errorf("--save: no history database configured (set DIAG_HISTORY_DB or history.path)")
	}

	w, err := newDirWatcher(args[0])
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	handle := func(path string) {
		res := analyze.Result{Name: filepath.Base(path)}
		lines, err := scan.File(path, scan.Options{})
		if err != nil {
			res.Err = err
		} else {
			res.Report, res.Err = analyzer.Analyze(ctx, lines)
		}
		if res.Err == nil && watchFlags.save {
			if err := store.Save(ctx, path, res.Report); err != nil {
				logger.Error("save failed", "file", path, "err", err)
			}
		}
		outMu.Lock()
		renderBatchRow(out, res)
		outMu.Unlock()
	}

	logger.Info("watching for session logs", "dir", args[0], "debounce", watchFlags.debounce)
	watchLoop(ctx, w, watchFlags.debounce, handle)
	return nil
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return w, nil
}

// watchLoop calls handle for every session file written or created under
// the watched directory, once per quiet period. It returns when ctx is done
// or the watcher is closed.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration, handle func(path string)) {
	var (
		mu     sync.Mutex
		timers = map[string]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if !sessionFile(event.Name) {
				continue
			}
			path := event.Name
			mu.Lock()
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(debounce, func() {
				mu.Lock()
				delete(timers, path)
				mu.Unlock()
				if ctx.Err() == nil {
					handle(path)
				}
			})
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "err", err)
		}
	}
}
