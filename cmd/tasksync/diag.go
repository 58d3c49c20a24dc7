package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/tasksync/internal/config"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/spf13/cobra"
)

var (
	diagDBPath     string
	diagOwner      string
	diagLimit      int
	diagJSONOutput bool
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Inspect sync state for an owner",
	Long:  "Read queue depth, session history, dead letters, and conflicts directly from the database without running the server.",
}

var diagStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending count and recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runDiagStatus,
}

var diagSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sync sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDiagSessions,
}

var diagDeadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List operations that exhausted their retries",
	Args:  cobra.NoArgs,
	RunE:  runDiagDeadLetters,
}

var diagConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List conflicts where the server copy won",
	Args:  cobra.NoArgs,
	RunE:  runDiagConflicts,
}

func init() {
	diagCmd.PersistentFlags().StringVar(&diagDBPath, "db", "",
		"Database path (overrides config and TASKSYNC_DB_PATH)")
	diagCmd.PersistentFlags().StringVar(&diagOwner, "owner", "", "Owner to inspect (required)")
	diagCmd.PersistentFlags().IntVar(&diagLimit, "limit", 20, "Maximum rows to list")
	diagCmd.PersistentFlags().BoolVar(&diagJSONOutput, "json", false, "Output in JSON format")

	diagCmd.AddCommand(diagStatusCmd)
	diagCmd.AddCommand(diagSessionsCmd)
	diagCmd.AddCommand(diagDeadLettersCmd)
	diagCmd.AddCommand(diagConflictsCmd)
}

// openDiagEngine opens the database named by --db or config and wraps it
// in an engine. The caller closes the returned store.
func openDiagEngine() (*engine.Engine, *store.SQLiteStore, error) {
	if diagOwner == "" {
		return nil, nil, errors.New("--owner is required")
	}
	if diagLimit < 1 {
		return nil, nil, errors.New("--limit must be at least 1")
	}

	path := diagDBPath
	if path == "" {
		dbCfg, err := config.LoadDatabaseConfig()
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		path = dbCfg.Path
	}

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(s, engine.Options{SessionHistory: diagLimit}), s, nil
}

func runDiagStatus(cmd *cobra.Command, args []string) error {
	eng, s, err := openDiagEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := eng.GetStatus(context.Background(), diagOwner)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	out := cmd.OutOrStdout()
	if diagJSONOutput {
		return printJSON(out, report)
	}

	fmt.Fprintf(out, "Owner:        %s\n", diagOwner)
	fmt.Fprintf(out, "Pending:      %d\n", report.PendingCount)
	if report.LastSessionTimestamp == nil {
		fmt.Fprintln(out, "Last session: never")
		return nil
	}
	fmt.Fprintf(out, "Last session: %s (%s)\n", formatTime(*report.LastSessionTimestamp), report.LastSessionStatus)
	return nil
}

func runDiagSessions(cmd *cobra.Command, args []string) error {
	eng, s, err := openDiagEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := eng.ListSessions(context.Background(), diagOwner, diagLimit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if diagJSONOutput {
		return printJSON(out, map[string]any{"sessions": sessions, "total": len(sessions)})
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tSTATUS\tTOTAL\tPROCESSED\tFAILED\tCREATED")
	for _, ss := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			ss.ID, ss.Status, ss.Total, ss.Processed, ss.Failed, formatTime(ss.CreatedAt))
	}
	return w.Flush()
}

func runDiagDeadLetters(cmd *cobra.Command, args []string) error {
	eng, s, err := openDiagEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	dead, err := eng.ListDeadLetters(context.Background(), diagOwner, diagLimit)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	out := cmd.OutOrStdout()
	if diagJSONOutput {
		return printJSON(out, map[string]any{"dead_letters": dead, "total": len(dead)})
	}
	if len(dead) == 0 {
		fmt.Fprintln(out, "No dead letters found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "OPERATION\tTARGET\tKIND\tRETRIES\tMOVED\tLAST ERROR")
	for _, d := range dead {
		lastErr := "-"
		if d.LastError != nil {
			lastErr = *d.LastError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			d.OperationID, d.TargetID, d.Kind, d.RetryCount, formatTime(d.MovedAt), lastErr)
	}
	return w.Flush()
}

func runDiagConflicts(cmd *cobra.Command, args []string) error {
	eng, s, err := openDiagEngine()
	if err != nil {
		return err
	}
	defer s.Close()

	conflicts, err := eng.ListConflicts(context.Background(), diagOwner, diagLimit)
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	out := cmd.OutOrStdout()
	if diagJSONOutput {
		return printJSON(out, map[string]any{"conflicts": conflicts, "total": len(conflicts)})
	}
	if len(conflicts) == 0 {
		fmt.Fprintln(out, "No conflicts found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "OPERATION\tTARGET\tKIND\tLOCAL TS\tSERVER TS")
	for _, c := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.OperationID, c.TargetID, c.Kind, formatTime(c.LocalTimestamp), formatTime(c.ServerTimestamp))
	}
	return w.Flush()
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
