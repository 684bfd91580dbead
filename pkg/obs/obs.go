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

// Package obs wraps the pipeline's cross-cutting counters (auth rejections,
// queue overflow drops, rate-limited requests, TSA retry attempts) as OTel
// metric instruments, exported the same way pkg/logger exports traces.
package obs

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "serviceradar.ingestor"

	metricAuthRejections   = "ingest_auth_rejections_total"
	metricOverflowDrops    = "ingest_queue_overflow_drops_total"
	metricRateLimited      = "ingest_rate_limited_total"
	metricTSARetries       = "ingest_tsa_retries_total"
	metricIngestOutcomes   = "ingest_outcomes_total"
	metricIngestLatency    = "ingest_latency_seconds"
	metricMalformedTopics  = "ingest_malformed_topics_total"
	metricDegradedRateMode = "ingest_rate_limit_degraded_total"
)

//nolint:gochecknoglobals // instruments are cached process-wide singletons
var (
	meterOnce sync.Once

	authRejections   metric.Int64Counter
	overflowDrops    metric.Int64Counter
	rateLimited      metric.Int64Counter
	tsaRetries       metric.Int64Counter
	ingestOutcomes   metric.Int64Counter
	ingestLatency    metric.Float64Histogram
	malformedTopics  metric.Int64Counter
	degradedRateMode metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error

	authRejections, err = meter.Int64Counter(metricAuthRejections,
		metric.WithDescription("Total requests rejected by the authenticator, by reason"))
	if err != nil {
		otel.Handle(err)
	}

	overflowDrops, err = meter.Int64Counter(metricOverflowDrops,
		metric.WithDescription("Total messages dropped from a dispatcher queue due to backpressure, by topic kind"))
	if err != nil {
		otel.Handle(err)
	}

	rateLimited, err = meter.Int64Counter(metricRateLimited,
		metric.WithDescription("Total requests rejected by the rate limiter"))
	if err != nil {
		otel.Handle(err)
	}

	tsaRetries, err = meter.Int64Counter(metricTSARetries,
		metric.WithDescription("Total time-series adapter write attempts beyond the first"))
	if err != nil {
		otel.Handle(err)
	}

	ingestOutcomes, err = meter.Int64Counter(metricIngestOutcomes,
		metric.WithDescription("Total ingest outcomes, by kind"))
	if err != nil {
		otel.Handle(err)
	}

	ingestLatency, err = meter.Float64Histogram(metricIngestLatency,
		metric.WithDescription("Wall-clock duration of a single Ingest call"),
		metric.WithUnit("s"))
	if err != nil {
		otel.Handle(err)
	}

	malformedTopics, err = meter.Int64Counter(metricMalformedTopics,
		metric.WithDescription("Total broker messages dropped for an unparseable topic"))
	if err != nil {
		otel.Handle(err)
	}

	degradedRateMode, err = meter.Int64Counter(metricDegradedRateMode,
		metric.WithDescription("Total rate-limit checks that fell back to local/fail-open mode"))
	if err != nil {
		otel.Handle(err)
	}
}

// RecordAuthRejection increments the rejection counter for a given reason.
func RecordAuthRejection(ctx context.Context, reason string) {
	meterOnce.Do(initMeter)

	if authRejections == nil {
		return
	}

	authRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordOverflowDrop increments the head-drop counter for a dispatcher queue.
func RecordOverflowDrop(ctx context.Context, topicKind string) {
	meterOnce.Do(initMeter)

	if overflowDrops == nil {
		return
	}

	overflowDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("topic_kind", topicKind)))
}

// RecordMalformedTopic increments the malformed-topic drop counter.
func RecordMalformedTopic(ctx context.Context) {
	meterOnce.Do(initMeter)

	if malformedTopics == nil {
		return
	}

	malformedTopics.Add(ctx, 1)
}

// RecordRateLimited increments the rate-limited rejection counter.
func RecordRateLimited(ctx context.Context, key string) {
	meterOnce.Do(initMeter)

	if rateLimited == nil {
		return
	}

	rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// RecordDegradedRateLimit increments the fail-open/local-fallback counter.
func RecordDegradedRateLimit(ctx context.Context) {
	meterOnce.Do(initMeter)

	if degradedRateMode == nil {
		return
	}

	degradedRateMode.Add(ctx, 1)
}

// RecordTSARetry increments the TSA retry counter; attempt is 1-indexed, so
// the first attempt (attempt == 1) is not counted as a retry.
func RecordTSARetry(ctx context.Context, attempt int) {
	if attempt <= 1 {
		return
	}

	meterOnce.Do(initMeter)

	if tsaRetries == nil {
		return
	}

	tsaRetries.Add(ctx, 1)
}

// RecordOutcome increments the outcome counter and records the call's
// latency, keyed by outcome kind.
func RecordOutcome(ctx context.Context, kind string, duration time.Duration) {
	meterOnce.Do(initMeter)

	if ingestOutcomes != nil {
		ingestOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}

	if ingestLatency != nil {
		ingestLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
	}
}
