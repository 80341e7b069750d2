package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache/memory"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache/redis"
	cachesqlite "github.com/joshuajerin/cv-opus-hackathon/pkg/cache/sqlite"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm/anthropic"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/llm/gemini"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/pipeline"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/retry"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/router"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/runlog"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/stages"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/status"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/tracker"
)

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func openCache(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*cache.Cache, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Cache.Backend {
	case "redis":
		store, err = redis.New(cfg.Cache.RedisURL)
	case "memory":
		store = memory.New()
	default:
		store, err = cachesqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	return cache.New(store, cfg.Cache.TTL, cache.WithLogger(logger), cache.WithMetrics(m)), nil
}

func newInvokers(ctx context.Context, cfg *config.Config) (map[string]llm.Invoker, error) {
	invokers := make(map[string]llm.Invoker, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Type {
		case "gemini":
			c, err := gemini.New(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", p.Name, err)
			}
			invokers[p.Name] = c
		default:
			invokers[p.Name] = anthropic.New(p)
		}
	}
	return invokers, nil
}

// app is a fully wired pipeline with its backing stores.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	cache       *cache.Cache
	usage       *tracker.SQLiteTracker
	runs        *runlog.Log
	client      *llm.Client
	coordinator *pipeline.Coordinator
	closers     []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, sink status.Sink) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	opts := []llm.Option{
		llm.WithLogger(logger),
		llm.WithMetrics(a.metrics),
		llm.WithRetry(retry.New(retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}, retry.WithLogger(logger), retry.WithMetrics(a.metrics))),
	}

	if cfg.Cache.Enabled {
		if a.cache, err = openCache(cfg, logger, a.metrics); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.cache.Close)
		opts = append(opts, llm.WithCache(a.cache))
	}

	if a.usage, err = tracker.New(cfg.DBPath); err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.closers = append(a.closers, a.usage.Close)
	opts = append(opts, llm.WithUsage(a.usage))

	r, err := router.New(cfg)
	if err != nil {
		return nil, err
	}
	invokers, err := newInvokers(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.client = llm.NewClient(r, invokers, opts...)

	d := pipeline.NewDispatcher(pipeline.WithDispatchLogger(logger), pipeline.WithDispatchMetrics(a.metrics))
	seq := stages.Register(d, cfg, a.client)

	copts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithSink(sink),
	}
	if cfg.RunLog.Enabled {
		if a.runs, err = runlog.New(cfg.DBPath, cfg.RunLog.RetentionDays); err != nil {
			return nil, fmt.Errorf("init runlog: %w", err)
		}
		a.closers = append(a.closers, a.runs.Close)
		copts = append(copts, pipeline.WithRecorder(a.runs))
	}

	if a.coordinator, err = pipeline.NewCoordinator(d, seq, copts...); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
