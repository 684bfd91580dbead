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

// Package lifecycle bootstraps the ingestion core's process: logger
// construction and signal-driven graceful shutdown. There is no gRPC or HTTP
// server here — those transports are external collaborators;
// this package only owns the process lifecycle the core runs inside.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iotflow/ingestor/pkg/logger"
)

const (
	// DefaultShutdownTimeout bounds how long Run waits for Service.Stop
	// before giving up, matching drain_timeout default.
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	errShutdownTimeout = errors.New("timeout shutting down")
	errServiceStop     = errors.New("service stop failed")
)

// Service is anything the ingestion core runs as its main body: the broker
// dispatcher, the health reconciler, or a composite that starts both.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// RunOptions configures Run.
type RunOptions struct {
	ServiceName     string
	Service         Service
	ShutdownTimeout time.Duration
	LoggerConfig    *logger.Config
	Logger          logger.Logger // reuse an existing logger instead of constructing one
}

// Run starts opts.Service and blocks until a termination signal, a context
// cancellation, or a service error arrives, then drives graceful shutdown.
func Run(ctx context.Context, opts *RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := opts.Logger

	if log == nil {
		createdLogger, err := CreateComponentLogger(ctx, opts.ServiceName, opts.LoggerConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		log = createdLogger

		defer func() {
			if err := ShutdownLogger(); err != nil {
				log.Error().Err(err).Msg("failed to shut down logger")
			}
		}()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := opts.Service.Start(ctx); err != nil {
			errChan <- fmt.Errorf("service start failed: %w", err)
		}
	}()

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return handleShutdown(ctx, cancel, opts.Service, errChan, shutdownTimeout, log)
}

func handleShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	svc Service,
	errChan chan error,
	shutdownTimeout time.Duration,
	log logger.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var cause error

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, initiating shutdown")
	case err := <-errChan:
		log.Error().Err(err).Msg("service reported error, initiating shutdown")

		return err
	case <-ctx.Done():
		log.Info().Msg("context canceled, initiating shutdown")

		cause = ctx.Err()
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	stopDone := make(chan error, 1)

	go func() {
		stopDone <- svc.Stop(shutdownCtx)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Error().Msg("shutdown timed out")

		return fmt.Errorf("%w: %w", errShutdownTimeout, shutdownCtx.Err())
	case err := <-stopDone:
		if err != nil {
			return fmt.Errorf("%w: %w", errServiceStop, err)
		}

		log.Info().Msg("shutdown complete")

		return cause
	}
}
