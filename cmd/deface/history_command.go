package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"deface/internal/history"
	"deface/internal/services"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent defacing runs, or the records of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.History.Enabled {
				fmt.Fprintln(out, "Run history is disabled (history.enabled = false)")
				return nil
			}
			if _, err := os.Stat(cfg.HistoryPath()); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			if len(args) == 1 {
				runID := strings.TrimSpace(args[0])
				records, err := store.ByRunID(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return services.Wrap(services.ErrNotFound, "history", "show run", fmt.Sprintf("no run matches %q", runID), nil)
				}
				fmt.Fprintln(out, renderRunDetail(records, time.Now()))
				return nil
			}

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No runs recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(records, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	return cmd
}

func renderHistoryTable(records []history.Record, now time.Time) string {
	headers := []string{"Run", "When", "Kind", "Status", "Input", "Output", "Took"}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		runID := rec.RunID
		if len(runID) > 8 {
			runID = runID[:8]
		}
		output := valueOrDash(rec.Output)
		if rec.Output != "" {
			output = filepath.Base(rec.Output)
		}
		status := string(rec.Status)
		if rec.Error != "" {
			status += ": " + rec.Error
		}
		rows = append(rows, []string{
			runID,
			humanize.RelTime(rec.StartedAt, now, "ago", "from now"),
			string(rec.Kind),
			status,
			filepath.Base(rec.Input),
			output,
			rec.Duration().Round(100 * time.Millisecond).String(),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
	return renderTable(headers, rows, aligns, 60)
}

// renderRunDetail shows the settings of a run followed by one row per record,
// the defacing step first and then each image the mask was applied to.
func renderRunDetail(records []history.Record, now time.Time) string {
	first := records[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", first.RunID)
	fmt.Fprintf(&b, "Started:  %s (%s)\n", first.StartedAt.Local().Format(time.DateTime),
		humanize.RelTime(first.StartedAt, now, "ago", "from now"))
	for _, rec := range records {
		if rec.Kind != history.KindDeface {
			continue
		}
		fmt.Fprintf(&b, "Template: %s\n", valueOrDash(rec.Template))
		fmt.Fprintf(&b, "Facemask: %s\n", valueOrDash(rec.Facemask))
		fmt.Fprintf(&b, "Cost:     %s\n", valueOrDash(rec.Cost))
		break
	}

	headers := []string{"Kind", "Status", "Input", "Output", "Took"}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := string(rec.Status)
		if rec.Error != "" {
			status += ": " + rec.Error
		}
		rows = append(rows, []string{
			string(rec.Kind),
			status,
			rec.Input,
			valueOrDash(rec.Output),
			rec.Duration().Round(100 * time.Millisecond).String(),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
	b.WriteString(renderTable(headers, rows, aligns, 0))
	return b.String()
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
