// Command diagtrace analyzes ECU diagnostic logs from the terminal.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/pkg/config"
	"github.com/WessleyAI/diagtrace/pkg/logging"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
}

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "diagtrace",
	Short: "Root-cause analysis for ECU diagnostic logs",
	Long: "diagtrace reads flashing and diagnostic session logs, identifies the\n" +
		"ECU being worked on, links errors into a causal chain and recommends\n" +
		"the next repair steps.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "path to YAML config (default $DIAG_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	cfg = c
	logger = logging.New(cmd.ErrOrStderr(), c.Log.Level, "text")
	return nil
}

// openAnalyzer builds an analyzer from the loaded config. When a history
// database is configured it is opened, used as the success-rate baseline
// and returned so commands can save to it; the caller closes it.
func openAnalyzer() (*analyze.Analyzer, *history.Store, error) {
	opts, err := cfg.AnalyzerOptions()
	if err != nil {
		return nil, nil, err
	}
	opts.Logger = logger

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		opts.Baseline = store
	}
	return analyze.New(opts), store, nil
}

func openHistory() (*history.Store, error) {
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("no history database configured (set DIAG_HISTORY_DB or history.path)")
	}
	return history.Open(cfg.History.Path)
}
