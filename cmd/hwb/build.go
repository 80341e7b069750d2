package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/pipeline"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "build <prompt>",
		Short: "Run the stage pipeline for a natural-language project description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			progress := status.Func(func(text string) { fmt.Fprintln(cmd.ErrOrStderr(), text) })
			a, err := newApp(ctx, cfg, logger, progress)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.coordinator.Run(ctx, strings.Join(args, " "))
			var first *pipeline.FirstStageFailedError
			if runErr != nil && !errors.As(runErr, &first) {
				return runErr
			}

			if outPath != "" {
				b, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, b, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				printSummary(cmd, res)
			}

			if res.Status == models.RunError {
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "also write the full result to a file")
	return cmd
}

func printSummary(cmd *cobra.Command, res *models.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", res.ID)
	fmt.Fprintf(out, "Status:   %s\n", res.Status)
	fmt.Fprintf(out, "Duration: %s ms\n", humanize.Comma(res.DurationMs))

	ids := make([]string, 0, len(res.Outputs))
	for id := range res.Outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		fmt.Fprintf(out, "Outputs:  %s\n", strings.Join(ids, ", "))
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "Error:    %s\n", e)
	}
}
