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

package main

import (
	"errors"
	"time"

	"github.com/iotflow/ingestor/pkg/broker"
	"github.com/iotflow/ingestor/pkg/health"
	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/timeseries"
)

var (
	errMissingBrokerURL   = errors.New("ingestor: broker.url is required")
	errMissingMetadataDSN = errors.New("ingestor: metadata.host is required")
	errMissingInfluxURL   = errors.New("ingestor: timeseries.url is required")
	errUnknownSharedTier  = errors.New("ingestor: shared_state.backend must be \"nats\", \"redis\", or \"\"")
)

// SharedStateConfig selects and configures the optional shared KV tier
// backing the Liveness Cache and the Rate Limiter.
type SharedStateConfig struct {
	// Backend is "nats", "redis", or "" to run without a shared tier
	// (every instance then falls back to local-only state).
	Backend string `json:"backend,omitempty"`

	NATSURL     string        `json:"nats_url,omitempty"`
	NATSBucket  string        `json:"nats_bucket,omitempty"`
	NATSHistory uint8         `json:"nats_history,omitempty"`
	NATSTTL     time.Duration `json:"nats_ttl,omitempty"`

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" sensitive:"true"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// RateLimitConfig configures the Rate Limiter's default request budget.
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests,omitempty"`
	Window      time.Duration `json:"window,omitempty"`
}

// HealthConfig configures the Health Aggregator's background reconciler.
type HealthConfig struct {
	ReconcileInterval time.Duration `json:"reconcile_interval,omitempty"`
	ScanBudget        time.Duration `json:"scan_budget,omitempty"`
}

// WorkerConfig controls how many goroutines drain each Broker Dispatcher
// queue into the Ingestion Pipeline.
type WorkerConfig struct {
	TelemetryWorkers int `json:"telemetry_workers,omitempty"`
	StatusWorkers    int `json:"status_workers,omitempty"`
	HeartbeatWorkers int `json:"heartbeat_workers,omitempty"`
}

// Config is the ingestion core's full, file/env-loadable configuration.
type Config struct {
	ServiceName string         `json:"service_name,omitempty"`
	Logging     *logger.Config `json:"logging,omitempty"`

	Metadata    metadata.Config        `json:"metadata"`
	TimeSeries  timeseries.InfluxConfig `json:"timeseries"`
	SharedState SharedStateConfig      `json:"shared_state,omitempty"`
	Broker      broker.Config          `json:"broker"`

	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Health    HealthConfig    `json:"health,omitempty"`
	Workers   WorkerConfig    `json:"workers,omitempty"`

	ShutdownTimeout time.Duration `json:"shutdown_timeout,omitempty"`
}

// Validate checks the invariants LoadAndValidate enforces before the
// ingestion core starts any adapter.
func (c *Config) Validate() error {
	if c.Broker.Broker == "" {
		return errMissingBrokerURL
	}

	if c.Metadata.Host == "" {
		return errMissingMetadataDSN
	}

	if c.TimeSeries.URL == "" {
		return errMissingInfluxURL
	}

	switch c.SharedState.Backend {
	case "", "nats", "redis":
	default:
		return errUnknownSharedTier
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "ingestor"
	}

	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 120
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}

	if c.Workers.TelemetryWorkers == 0 {
		c.Workers.TelemetryWorkers = 4
	}

	if c.Workers.StatusWorkers == 0 {
		c.Workers.StatusWorkers = 2
	}

	if c.Workers.HeartbeatWorkers == 0 {
		c.Workers.HeartbeatWorkers = 2
	}

	if c.TimeSeries.Root == "" {
		c.TimeSeries.Root = timeseries.DefaultRoot
	}

	if c.Health.ReconcileInterval == 0 {
		c.Health.ReconcileInterval = health.DefaultReconcileInterval
	}

	if c.Health.ScanBudget == 0 {
		c.Health.ScanBudget = health.DefaultScanBudget
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}
