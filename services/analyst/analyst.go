// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyst assembles the analysis service from its configuration:
// the agent client, the data sources behind the tools, the conversation
// orchestrator, answer history and the HTTP API.
//
// # Basic Usage
//
//	svc, err := analyst.New(ctx, cfg)
//	if err != nil { ... }
//	defer svc.Close()
//	err = svc.Serve(ctx)
package analyst

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/signalk-analyst/services/analyst/answers"
	"github.com/AleutianAI/signalk-analyst/services/analyst/config"
	"github.com/AleutianAI/signalk-analyst/services/analyst/conversation"
	"github.com/AleutianAI/signalk-analyst/services/analyst/datastore"
	"github.com/AleutianAI/signalk-analyst/services/analyst/observability"
	"github.com/AleutianAI/signalk-analyst/services/analyst/queryguard"
	"github.com/AleutianAI/signalk-analyst/services/analyst/retry"
	"github.com/AleutianAI/signalk-analyst/services/analyst/routes"
	"github.com/AleutianAI/signalk-analyst/services/analyst/tools"
	"github.com/AleutianAI/signalk-analyst/services/llm"
)

// Service owns every long-lived component of the analyst.
//
// # Thread Safety
//
// Orchestrator, Answers and Router are safe for concurrent use. Close must
// be called once, after Serve returns.
type Service struct {
	Config       config.Config
	Orchestrator *conversation.Orchestrator
	Answers      *answers.Store
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Router       *gin.Engine

	logger  *slog.Logger
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	client llm.Client
	logger *slog.Logger
}

// WithClient replaces the client built from the agent configuration.
func WithClient(client llm.Client) Option {
	return func(o *options) { o.client = client }
}

// WithServiceLogger sets the logger handed to every component.
func WithServiceLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds the service. On error every component opened so far is
// closed again.
//
// # Description
//
// Construction order: metrics, agent client, data sources, tools, the
// conversation registry, answer history, the orchestrator and finally the
// HTTP router. The registry sweeper runs until ctx is cancelled.
//
// # Inputs
//
//   - ctx: Bounds the background sweeper.
//   - cfg: A validated configuration (see config.Load).
//   - opts: Optional overrides.
//
// # Outputs
//
//   - *Service: Ready to Serve.
//   - error: Missing API key, unreadable database, or invalid InfluxDB
//     settings.
func New(ctx context.Context, cfg config.Config, opts ...Option) (svc *Service, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	svc = &Service{Config: cfg, logger: o.logger}
	cleanup := svc
	defer func() {
		if err != nil {
			cleanup.Close()
		}
	}()

	svc.Registry = prometheus.NewRegistry()
	svc.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc.Metrics = observability.NewMetrics(svc.Registry)

	client := o.client
	if client == nil {
		client, err = NewClient(cfg.Agent)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Agent.RequestsPerSecond > 0 {
		client = llm.NewRateLimitedClient(client, cfg.Agent.RequestsPerSecond, cfg.Agent.Burst)
	}

	sources, err := svc.openSources(cfg.Data)
	if err != nil {
		return nil, err
	}

	guard := queryguard.New(queryguard.WithLogger(o.logger))
	dispatcher := tools.NewDispatcher([]tools.Handler{
		tools.NewQueryTool(guard, sources.engine, cfg.Data.PreviewRows, cfg.Data.PreviewBytes),
		tools.NewEpisodeTool(sources.series),
		tools.NewSnapshotTool(sources.snapshot, cfg.Data.SnapshotDepth, cfg.Data.PreviewBytes),
	},
		tools.WithTimeout(cfg.Data.ToolTimeout),
		tools.WithObserver(svc.Metrics.RecordTool),
		tools.WithLogger(o.logger),
	)

	sessions := conversation.NewSessionStore(cfg.Store.SessionTTL, cfg.Store.MaxSessions,
		conversation.WithSizeObserver(svc.Metrics.SetActiveSessions))
	sessions.Start(ctx)

	storeCfg := answers.DefaultConfig(cfg.Store.Path)
	if cfg.Store.InMemory {
		storeCfg = answers.InMemoryConfig()
	}
	storeCfg.Retention = cfg.Store.Retention
	storeCfg.Logger = o.logger
	svc.Answers, err = answers.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open answer store: %w", err)
	}
	svc.closers = append(svc.closers, svc.Answers.Close)

	metrics := svc.Metrics
	executor := retry.NewExecutor(cfg.Retry,
		retry.WithLogger(o.logger),
		retry.WithRetryHook(func(kind retry.Kind, _ int, _ time.Duration) {
			metrics.RecordRetry(kind.String())
		}))

	orchestratorOpts := []conversation.Option{
		conversation.WithMaxRounds(cfg.Agent.MaxRounds),
		conversation.WithFollowUpRounds(cfg.Agent.FollowUpMaxRounds),
		conversation.WithMaxRetries(cfg.Agent.MaxRetries),
		conversation.WithRetryExecutor(executor),
		conversation.WithAnswerSink(svc.Answers),
		conversation.WithMetrics(svc.Metrics),
		conversation.WithLogger(o.logger),
		conversation.WithModel(cfg.Agent.Model),
		conversation.WithGeneration(cfg.Agent.MaxTokens, cfg.Agent.Temperature),
	}
	if sources.records != nil {
		orchestratorOpts = append(orchestratorOpts, conversation.WithRecordSource(sources.records))
	}
	svc.Orchestrator = conversation.NewOrchestrator(client, dispatcher, sessions, orchestratorOpts...)

	svc.Router = gin.New()
	svc.Router.Use(gin.Recovery())
	svc.Router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	routes.SetupRoutes(svc.Router, routes.Deps{
		Analyzer:      svc.Orchestrator,
		Conversations: sessions,
		History:       svc.Answers,
		Gatherer:      svc.Registry,
	})

	o.logger.Info("Analyst service ready",
		"provider", cfg.Agent.Provider,
		"model", client.Model(),
		"tools", dispatcher.Names(),
		"series_source", cfg.Data.SeriesSource)
	return svc, nil
}

// NewClient builds the agent client for cfg.Provider. The API key comes
// from the provider's environment variable or cfg.APIKeyFile.
func NewClient(cfg config.AgentConfig) (llm.Client, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		slog.Warn("Using the mock agent provider; answers are canned")
		return llm.NewMockClient(), nil
	case config.ProviderOpenAI:
		key, err := llm.LoadSecret(cfg.APIKeyEnv(), cfg.APIKeyFile)
		if err != nil {
			return nil, err
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  key,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case config.ProviderAnthropic, "":
		key, err := llm.LoadSecret(cfg.APIKeyEnv(), cfg.APIKeyFile)
		if err != nil {
			return nil, err
		}
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  key,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// dataSources are the backends of the tools. A nil field leaves the
// corresponding tool answering with a source-unavailable error.
type dataSources struct {
	engine   datastore.QueryEngine
	series   datastore.SeriesSource
	records  datastore.RecordSource
	snapshot datastore.SnapshotClient
}

func (s *Service) openSources(cfg config.DataConfig) (dataSources, error) {
	var out dataSources

	var db *sql.DB
	if cfg.SQLitePath != "" {
		var err error
		db, err = datastore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return out, fmt.Errorf("open history database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		out.engine = datastore.NewSQLEngine(db, cfg.MaxRows, s.logger)
	} else {
		s.logger.Warn("No history database configured; run_query is unavailable")
	}

	switch cfg.SeriesSource {
	case config.SourceInflux:
		influx, closeFn, err := datastore.DialInflux(datastore.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, s.logger)
		if err != nil {
			return out, err
		}
		s.closers = append(s.closers, func() error { closeFn(); return nil })
		out.series, out.records = influx, influx
	default:
		if db != nil {
			series := datastore.NewSQLSeriesSource(db)
			out.series, out.records = series, series
		}
	}

	if cfg.SignalKURL != "" {
		out.snapshot = datastore.NewSignalKClient(cfg.SignalKURL, nil)
	} else {
		s.logger.Warn("No Signal K server configured; get_live_snapshot is unavailable")
	}
	return out, nil
}

// Serve runs the HTTP API on cfg.Server.Addr until ctx is cancelled, then
// shuts down gracefully within cfg.Server.ShutdownTimeout.
func (s *Service) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Config.Server.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting the analyst server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	timeout := s.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down the analyst server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the answer store and data sources in reverse order of
// opening.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
