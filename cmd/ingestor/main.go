/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command ingestor is the IoT connectivity core's process entrypoint: it
// wires the Metadata, Time-Series, and optional Shared-State adapters, the
// Broker Dispatcher, the Ingestion Pipeline, and the Health Aggregator
// together and runs them under pkg/lifecycle's signal-driven shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/iotflow/ingestor/pkg/auth"
	"github.com/iotflow/ingestor/pkg/broker"
	"github.com/iotflow/ingestor/pkg/config"
	"github.com/iotflow/ingestor/pkg/health"
	"github.com/iotflow/ingestor/pkg/ingest"
	"github.com/iotflow/ingestor/pkg/lifecycle"
	"github.com/iotflow/ingestor/pkg/liveness"
	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/ratelimit"
	"github.com/iotflow/ingestor/pkg/sharedstate"
	"github.com/iotflow/ingestor/pkg/timeseries"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/serviceradar/ingestor.json", "Path to ingestor config file")
	flag.Parse()

	ctx := context.Background()

	var cfg Config

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	cfg.applyDefaults()

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{Level: "info", Output: "stdout"}
	}

	appLogger, err := lifecycle.CreateComponentLogger(ctx, cfg.ServiceName, logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	svc, err := buildService(ctx, &cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to build ingestor: %w", err)
	}

	return lifecycle.Run(ctx, &lifecycle.RunOptions{
		ServiceName:     cfg.ServiceName,
		Service:         svc,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          appLogger,
	})
}

func buildService(ctx context.Context, cfg *Config, log logger.Logger) (*ingestorService, error) {
	pool, err := metadata.NewPostgresPool(ctx, &cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("connect metadata store: %w", err)
	}

	msa := metadata.NewPostgresStore(pool, log)

	tsa := timeseries.NewInfluxStore(&cfg.TimeSeries, log)

	shared, err := buildSharedStore(ctx, &cfg.SharedState)
	if err != nil {
		return nil, fmt.Errorf("connect shared state: %w", err)
	}

	lc := liveness.New(log, liveness.WithSharedStore(shared))
	authenticator := auth.New(msa)
	limiter := ratelimit.New(shared, log)

	pipeline := ingest.New(authenticator, limiter, tsa, msa, lc, log,
		ingest.WithRateLimit(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window))

	dispatcherLog, err := lifecycle.CreateComponentLogger(ctx, "broker", cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create broker logger: %w", err)
	}

	dispatcher := broker.New(cfg.Broker, dispatcherLog)

	aggregator := health.New(msa, tsa, shared, lc, log,
		health.WithReconcileInterval(cfg.Health.ReconcileInterval),
		health.WithScanBudget(cfg.Health.ScanBudget))

	return newIngestorService(cfg, log, msa, tsa, shared, dispatcher, pipeline, aggregator), nil
}

// buildSharedStore returns nil (not an error) when no shared tier is
// configured; every collaborator treats a nil sharedstate.Store as
// local-only mode.
func buildSharedStore(ctx context.Context, cfg *SharedStateConfig) (sharedstate.Store, error) {
	switch cfg.Backend {
	case "nats":
		return sharedstate.NewNATSStore(ctx, &sharedstate.NATSConfig{
			URL:     cfg.NATSURL,
			Bucket:  cfg.NATSBucket,
			History: cfg.NATSHistory,
			TTL:     cfg.NATSTTL,
		})
	case "redis":
		return sharedstate.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, nil
	}
}
