package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/tracker"
)

func newUsageCmd(opts *rootOptions) *cobra.Command {
	var (
		model string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage of uncached model calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()
			ctx := context.Background()

			summaries, err := tr.Summary(ctx, model)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tCALLS\tINPUT\tOUTPUT\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					s.Provider, s.Model, s.Calls,
					humanize.Comma(s.InputTokens), humanize.Comma(s.OutputTokens), humanize.Comma(s.TotalTokens))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if since > 0 {
				total, err := tr.TotalSince(ctx, time.Now().UTC().Add(-since))
				if err != nil {
					return err
				}
				fmt.Printf("\nLast %s: %s tokens\n", since, humanize.Comma(total))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().DurationVar(&since, "since", 0, "also show the total for this window, e.g. 24h")
	return cmd
}
