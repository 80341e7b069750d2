package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/server"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP build server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, cfg.Telemetry, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Warn("telemetry shutdown", zap.Error(err))
				}
			}()

			a, err := newApp(ctx, cfg, logger, status.Log(logger.Named("run")))
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg.Server, a.coordinator,
				server.WithLogger(logger),
				server.WithGatherer(a.registry),
			)
			logger.Info("starting hwb server",
				zap.String("config", opts.configPath),
				zap.Int("max_concurrent_builds", cfg.Server.MaxConcurrentBuilds),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen")
	return cmd
}
