package main

import (
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/diagtrace/engine/explain"
	"github.com/WessleyAI/diagtrace/engine/scan"
	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	jsonOut bool
	explain bool
	save    bool
	all     bool
	source  string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Analyze one diagnostic session log",
	Long: "Scan FILE for diagnostic lines, identify the target ECU and the root\n" +
		"failure, and print the report with recommended repair steps.",
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.BoolVar(&analyzeFlags.jsonOut, "json", false, "print the report as JSON")
	f.BoolVar(&analyzeFlags.explain, "explain", false, "add a plain-language explanation from the configured LLM")
	f.BoolVar(&analyzeFlags.save, "save", false, "save the report to the history database")
	f.BoolVar(&analyzeFlags.all, "all", false, "treat every line as diagnostic (skip keyword filtering)")
	f.StringVar(&analyzeFlags.source, "source", "", "source label stored with the report (default FILE)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]
	if analyzeFlags.explain && cfg.LLM.APIKey == "" {
		return fmt.Errorf("--explain: OPENAI_API_KEY is not set")
	}

	lines, err := scan.File(path, scan.Options{All: analyzeFlags.all})
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("%s: no diagnostic lines found", path)
	}

	analyzer, store, err := openAnalyzer()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	r, err := analyzer.Analyze(ctx, lines)
	if err != nil {
		return err
	}

	if analyzeFlags.save {
		if store == nil {
			return fmt.Errorf("--save: no history database configured (set DIAG_HISTORY_DB or history.path)")
		}
		source := analyzeFlags.source
		if source == "" {
			source = path
		}
		if err := store.Save(ctx, source, r); err != nil {
			return err
		}
		logger.Info("report saved", "session_id", r.SessionID)
	}

	var explanation string
	if analyzeFlags.explain {
		ex := explain.New(explain.Config{
			APIKey:        cfg.LLM.APIKey,
			BaseURL:       cfg.LLM.BaseURL,
			Model:         cfg.LLM.Model,
			RatePerSecond: cfg.LLM.RatePerSecond,
			Timeout:       cfg.LLM.Timeout,
			Retries:       2,
		}, logger)
		explanation, err = ex.Explain(ctx, r)
		if err != nil {
			logger.Warn("explanation unavailable", "err", err)
		}
	}

	out := cmd.OutOrStdout()
	if analyzeFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if explanation == "" {
			return enc.Encode(r)
		}
		return enc.Encode(struct {
			Report      any    `json:"report"`
			Explanation string `json:"explanation"`
		}{r, explanation})
	}
	renderReport(out, r, explanation)
	return nil
}
