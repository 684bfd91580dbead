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
	"context"
	"sync"

	"github.com/iotflow/ingestor/pkg/auth"
	"github.com/iotflow/ingestor/pkg/broker"
	"github.com/iotflow/ingestor/pkg/health"
	"github.com/iotflow/ingestor/pkg/ingest"
	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/sharedstate"
	"github.com/iotflow/ingestor/pkg/timeseries"
)

// ingestorService wires the Broker Dispatcher, the Ingestion Pipeline, and
// the Health Aggregator's reconciler into one lifecycle.Service: Start
// connects to the broker and launches the worker pool, Stop drains them in
// reverse order.
type ingestorService struct {
	cfg *Config
	log logger.Logger

	dispatcher *broker.Dispatcher
	pipeline   *ingest.Pipeline
	aggregator *health.Aggregator

	msa    metadata.Store
	tsa    timeseries.Store
	shared sharedstate.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newIngestorService(
	cfg *Config,
	log logger.Logger,
	msa metadata.Store,
	tsa timeseries.Store,
	shared sharedstate.Store,
	dispatcher *broker.Dispatcher,
	pipeline *ingest.Pipeline,
	aggregator *health.Aggregator,
) *ingestorService {
	return &ingestorService{
		cfg:        cfg,
		log:        log,
		msa:        msa,
		tsa:        tsa,
		shared:     shared,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		aggregator: aggregator,
	}
}

// Start implements lifecycle.Service. It never returns until ctx is
// cancelled or the dispatcher's connection loop gives up permanently.
func (s *ingestorService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Every Add happens here, synchronously, before Stop can possibly call
	// wg.Wait() — spawnWorker itself only decrements via defer.
	for i := 0; i < s.cfg.Workers.TelemetryWorkers; i++ {
		s.spawnWorker(runCtx, models.TopicTelemetry)
	}

	for i := 0; i < s.cfg.Workers.StatusWorkers; i++ {
		s.spawnWorker(runCtx, models.TopicStatus)
	}

	for i := 0; i < s.cfg.Workers.HeartbeatWorkers; i++ {
		s.spawnWorker(runCtx, models.TopicHeartbeat)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.aggregator.RunReconciler(runCtx)
	}()

	return s.dispatcher.Run(runCtx)
}

// spawnWorker launches one goroutine draining kind's queue into the
// Ingestion Pipeline; it exits once ctx is cancelled.
func (s *ingestorService) spawnWorker(ctx context.Context, kind models.TopicKind) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		queue := s.dispatcher.Queue(kind)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-queue:
				if !ok {
					return
				}

				s.handleMessage(ctx, msg)
			}
		}
	}()
}

func (s *ingestorService) handleMessage(ctx context.Context, msg broker.Message) {
	topic := msg.Topic

	outcome := s.pipeline.Ingest(ctx, ingest.Source{
		Kind:    auth.SourceBroker,
		Topic:   &topic,
		Payload: msg.Payload,
	})

	if !outcome.Accepted() && s.log != nil {
		s.log.Debug().
			Str("request_id", outcome.RequestID).
			Str("outcome", outcome.Kind.String()).
			Int64("device_id", topic.DeviceID).
			Msg("ingestor: message not accepted")
	}
}

// Stop implements lifecycle.Service: it stops the dispatcher, cancels the
// worker/reconciler goroutines, waits for them to drain, then closes every
// adapter.
func (s *ingestorService) Stop(ctx context.Context) error {
	s.dispatcher.Stop()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	return s.closeAdapters()
}

func (s *ingestorService) closeAdapters() error {
	var firstErr error

	if err := s.msa.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.tsa.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.shared != nil {
		if err := s.shared.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
