package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/runlog"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/tracker"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded pipeline runs",
	}

	var (
		statusFilter string
		since        time.Duration
		limit        int
		daily        bool
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			l, err := runlog.New(cfg.DBPath, 0)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()
			ctx := context.Background()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			if daily {
				stats, err := l.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "DAY\tSTATUS\tRUNS")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%s\t%d\n", s.Day, s.Status, s.Count)
				}
				return w.Flush()
			}

			q := models.RunQueryOpts{Status: models.RunStatus(statusFilter), Limit: limit}
			if since > 0 {
				q.Since = time.Now().UTC().Add(-since)
			}
			recs, err := l.List(ctx, q)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tERRORS\tDURATION\tPROMPT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, humanize.Time(r.CreatedAt), r.Status, len(r.Errors),
					time.Duration(r.DurationMs)*time.Millisecond, truncate(r.Prompt, 48))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (ready, partial, error)")
	listCmd.Flags().DurationVar(&since, "since", 0, "only runs newer than this, e.g. 24h")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	listCmd.Flags().BoolVar(&daily, "daily", false, "show run counts per day and status")

	var showOutputs bool
	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its stage log and token usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			l, err := runlog.New(cfg.DBPath, 0)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()
			ctx := context.Background()

			rec, err := l.Get(ctx, args[0])
			if err != nil {
				return err
			}
			msgs, err := l.Messages(ctx, rec.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Run:      %s\nPrompt:   %s\nStatus:   %s\nStarted:  %s (%s)\nDuration: %s\n",
				rec.ID, rec.Prompt, rec.Status, rec.CreatedAt.Format(time.RFC3339), humanize.Time(rec.CreatedAt),
				time.Duration(rec.DurationMs)*time.Millisecond)
			for _, e := range rec.Errors {
				fmt.Printf("Error:    %s\n", e)
			}

			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tTASK\tSTATUS\tDURATION\tERROR")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n", m.To, m.Task, m.Status, m.DurationMs, truncate(m.Error, 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()
			usage, err := tr.ByRun(ctx, rec.ID)
			if err != nil {
				return err
			}
			if len(usage) > 0 {
				var in, out int
				for _, u := range usage {
					in += u.InputTokens
					out += u.OutputTokens
				}
				fmt.Printf("\nModel calls: %d  input tokens: %s  output tokens: %s\n",
					len(usage), humanize.Comma(int64(in)), humanize.Comma(int64(out)))
			}

			if showOutputs && rec.Outputs != "" {
				var outputs map[string]any
				if err := json.Unmarshal([]byte(rec.Outputs), &outputs); err != nil {
					return fmt.Errorf("decode outputs: %w", err)
				}
				b, _ := json.MarshalIndent(outputs, "", "  ")
				fmt.Printf("\n%s\n", b)
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showOutputs, "outputs", false, "print stage outputs as JSON")

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
