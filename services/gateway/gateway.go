// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway assembles the Continuum service: configuration,
// pipeline, cache, evidence store, ledger, license guard, and the HTTP
// surface exposing them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rin-protocol/continuum/pkg/logging"
	"github.com/rin-protocol/continuum/pkg/ratelimit"
	"github.com/rin-protocol/continuum/services/evidence"
	"github.com/rin-protocol/continuum/services/gateway/handlers"
	"github.com/rin-protocol/continuum/services/gateway/observability"
	"github.com/rin-protocol/continuum/services/gateway/routes"
	"github.com/rin-protocol/continuum/services/ledger"
	"github.com/rin-protocol/continuum/services/license"
	"github.com/rin-protocol/continuum/services/pipeline"
	"github.com/rin-protocol/continuum/services/repair"
	"github.com/rin-protocol/continuum/services/reqcache"
)

// Version is the service release marker, overridable at link time.
var Version = "0.3.0"

// Service owns every long-lived component and the HTTP server. Create
// with New, start with Run, stop with Shutdown (or cancel Run's context).
type Service struct {
	cfg     Config
	logger  *logging.Logger
	router  *gin.Engine
	metrics *observability.Metrics
	stats   *observability.Aggregator

	pipeline *pipeline.Pipeline
	cache    *reqcache.Cache
	store    *evidence.Store
	usage    *ledger.Ledger
	guard    *license.Guard
	limiter  *ratelimit.Limiter

	srv           *http.Server
	tracerCleanup func(context.Context)
}

// New assembles the service. Secrets must come from LoadSecrets; the
// baseline secret is already guaranteed present at this point.
func New(cfg Config, secrets *Secrets, logger *logging.Logger) (*Service, error) {
	if secrets == nil {
		return nil, errors.New("secrets are required")
	}
	if logger == nil {
		logger = logging.New(logging.Config{Service: "continuum"})
	}
	slogger := logger.Slog()

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(prometheus.DefaultRegisterer),
		stats:   observability.NewAggregator(),
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	store, err := evidence.OpenStore(evidence.StoreConfig{
		Path:       cfg.Evidence.Dir,
		SyncWrites: true,
		Retention:  cfg.Evidence.Retention,
		Logger:     slogger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("open evidence store: %w", err)
	}
	s.store = store

	signingKey, err := openKey(secrets.UsageSigningKey)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("open usage signing key: %w", err)
	}
	s.usage, err = ledger.New(ledger.Config{
		Dir:        cfg.Ledger.Dir,
		SigningKey: signingKey,
		Logger:     slogger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	licenseKey, err := openKey(secrets.LicenseKey)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("open license key: %w", err)
	}
	s.guard, err = license.NewGuard(license.Config{
		Path:            cfg.License.Path,
		Key:             licenseKey,
		Mode:            license.EnforcementMode(cfg.License.EnforcementMode),
		RecheckInterval: cfg.License.RecheckInterval,
		Usage:           s.usage.TotalAnalyses,
		OnChange: func(snap license.Snapshot) {
			s.metrics.SetLicenseState(string(snap.Status))
		},
	}, slogger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initialize license guard: %w", err)
	}

	var executor repair.Executor
	if cfg.Repair.Enabled {
		executor, err = repair.NewOpenAIExecutor(repair.OpenAIConfig{
			BaseURL:           cfg.Repair.BaseURL,
			APIKey:            secrets.RepairAPIKey,
			Model:             cfg.Repair.Model,
			Timeout:           cfg.Repair.Timeout,
			MaxCallsPerSecond: cfg.Repair.MaxCallsPerSecond,
		}, slogger)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("initialize repair executor: %w", err)
		}
	}

	s.pipeline, err = pipeline.New(pipeline.Options{
		MaxInputBytes: cfg.Limits.MaxInputBytes,
		Thresholds: pipeline.Thresholds{
			Guide:  cfg.Pipeline.GuideThreshold,
			Repair: cfg.Pipeline.RepairThreshold,
		},
	}, executor, s.guard, slogger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("assemble pipeline: %w", err)
	}

	s.cache = reqcache.New(reqcache.Options{
		TTL:           cfg.Cache.TTL,
		SweepInterval: cfg.Cache.SweepInterval,
	}, slogger)

	s.limiter, err = ratelimit.New(cfg.Limits.RequestsPerMinute, time.Minute)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("initialize rate limiter: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.tracerCleanup != nil {
		s.router.Use(otelgin.Middleware("continuum"))
	}

	routes.SetupRoutes(s.router, handlers.Deps{
		Pipeline: s.pipeline,
		Cache:    s.cache,
		Evidence: s.store,
		Ledger:   s.usage,
		Guard:    s.guard,
		Stats:    s.stats,
		Metrics:  s.metrics,
		Logger:   slogger,
		Version:  Version,
	}, s.limiter)

	return s, nil
}

// Router returns the gin engine, for tests.
func (s *Service) Router() *gin.Engine { return s.router }

// Run starts the background tasks and the HTTP server, blocking until
// ctx is cancelled or the server fails. Shutdown runs on return.
func (s *Service) Run(ctx context.Context) error {
	if err := s.guard.Start(ctx); err != nil {
		return fmt.Errorf("start license guard: %w", err)
	}
	s.metrics.SetLicenseState(string(s.guard.State().Status))

	if err := s.cache.Start(ctx); err != nil {
		return fmt.Errorf("start cache sweeper: %w", err)
	}
	if err := s.limiter.Start(ctx, ratelimit.DefaultPruneInterval); err != nil {
		return fmt.Errorf("start limiter prune: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting continuum server",
		slog.String("addr", addr),
		slog.String("enforcement_mode", s.cfg.License.EnforcementMode),
		slog.String("license_state", string(s.guard.State().Status)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.Shutdown(context.Background())
			return err
		}
	}

	grace := s.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server and background tasks, finalizes the
// current ledger month, and releases storage.
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			firstErr = err
		}
		s.srv = nil
	}

	s.cache.Stop()
	s.limiter.Stop()
	s.guard.Stop()

	if _, err := s.usage.FinalizeCurrent(); err != nil {
		s.logger.Error("ledger finalize on shutdown failed", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}

	s.cleanup()
	return firstErr
}

// cleanup releases storage, tracing, and the logger. Safe on a partially
// constructed service.
func (s *Service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("evidence store close error", slog.String("error", err.Error()))
		}
		s.store = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// openKey copies the enclave contents into a regular byte slice for
// components that need long-lived key material.
func openKey(enclave *memguard.Enclave) ([]byte, error) {
	buf, err := enclave.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// initTracer sets up the OTLP trace exporter against the collector.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("continuum")))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
