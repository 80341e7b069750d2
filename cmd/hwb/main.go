package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
}

func main() {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "hwb",
		Short:         "hwb: natural-language hardware builds through a resilient LLM stage pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "hwb.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	root.AddCommand(
		newBuildCmd(opts),
		newExtractCmd(),
		newServeCmd(opts),
		newCacheCmd(opts),
		newRunsCmd(opts),
		newUsageCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
