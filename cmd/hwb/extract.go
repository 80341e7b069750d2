package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/extract"
)

func newExtractCmd() *cobra.Command {
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Recover a JSON value from model output (reads stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 1 && args[0] != "-" {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			v, tr, err := extract.ExtractWithTrace(string(raw))
			if showTrace {
				fmt.Fprintf(cmd.ErrOrStderr(), "tried: %s\n", strings.Join(tr.Tried, ", "))
			}
			if err != nil {
				return err
			}
			if showTrace {
				fmt.Fprintf(cmd.ErrOrStderr(), "strategy: %s\n", tr.Strategy)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the strategies tried to stderr")
	return cmd
}
