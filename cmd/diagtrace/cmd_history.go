package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var historyFlags struct {
	limit    int
	jsonOut  bool
	fixed    bool
	notFixed bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect saved sessions and record repair outcomes",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Print a saved report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyResolveCmd = &cobra.Command{
	Use:   "resolve SESSION_ID",
	Short: "Record whether the recommended repair fixed the vehicle",
	Long: "Record the outcome of a saved session. Outcomes feed the success rates\n" +
		"shown on future recommendations for the same root category.",
	Args: cobra.ExactArgs(1),
	RunE: runHistoryResolve,
}

func init() {
	historyListCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "maximum sessions to list")
	historyListCmd.Flags().BoolVar(&historyFlags.jsonOut, "json", false, "print as JSON")
	historyShowCmd.Flags().BoolVar(&historyFlags.jsonOut, "json", false, "print the report as JSON")
	historyResolveCmd.Flags().BoolVar(&historyFlags.fixed, "fixed", false, "the repair fixed the vehicle")
	historyResolveCmd.Flags().BoolVar(&historyFlags.notFixed, "not-fixed", false, "the repair did not fix the vehicle")
	historyResolveCmd.MarkFlagsMutuallyExclusive("fixed", "not-fixed")
	historyResolveCmd.MarkFlagsOneRequired("fixed", "not-fixed")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyResolveCmd)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), historyFlags.limit)
	if err != nil {
		return err
	}
	if historyFlags.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	renderHistory(cmd.OutOrStdout(), entries)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if historyFlags.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	renderReport(cmd.OutOrStdout(), r, "")
	return nil
}

func runHistoryResolve(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	resolved := historyFlags.fixed
	if err := store.RecordOutcome(cmd.Context(), args[0], resolved); err != nil {
		return err
	}
	outcome := "not fixed"
	if resolved {
		outcome = "fixed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s marked %s\n", args[0], outcome)
	return nil
}
