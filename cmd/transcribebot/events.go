package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"transcribebot/internal/audit"
	"transcribebot/internal/domain"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var (
		limit  int
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent events from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			events, err := store.RecentEvents(ctx, limit)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			counts, err := store.OutcomeCounts(ctx, time.Now().Add(-since))
			if err != nil {
				return fmt.Errorf("count outcomes: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"events": events,
					"counts": counts,
					"since":  since.String(),
				})
			}
			printEvents(cmd.OutOrStdout(), events)
			printCounts(cmd.OutOrStdout(), counts, since)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window for outcome totals")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(eventsPruneCmd())
	return cmd
}

func eventsPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit events older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("prune events: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d event(s) older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff, e.g. 720h")
	return cmd
}

func openAuditStore() (*audit.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Audit.DBPath); err != nil {
		return nil, fmt.Errorf("audit log not found at %s (enable audit in config and run serve)", cfg.Audit.DBPath)
	}
	store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return store, nil
}

func printEvents(w io.Writer, events []domain.EventRecord) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSENDER\tMODE\tOUTCOME\tMEDIA\tDURATION\tERROR")
	for _, e := range events {
		errText := e.ErrorKind
		if e.Error != "" {
			errText = e.ErrorKind + ": " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.CreatedAt.Format(time.DateTime), e.Sender, e.Mode, e.Outcome,
			mediaSummary(e), e.DurationMs, errText)
	}
	tw.Flush()
}

func mediaSummary(e domain.EventRecord) string {
	if e.MediaType == "" {
		return "-"
	}
	if e.MediaBytes == 0 {
		return e.MediaType
	}
	return fmt.Sprintf("%s (%s)", e.MediaType, humanSize(e.MediaBytes))
}

func printCounts(w io.Writer, counts map[domain.OutcomeKind]int, since time.Duration) {
	fmt.Fprintf(w, "\nOutcomes in the last %s:\n", since)
	if len(counts) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-12s %d\n", k, counts[domain.OutcomeKind(k)])
	}
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
