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

// Package ingest is the Ingestion Pipeline (IP): the single critical path
// both transports call into.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/iotflow/ingestor/pkg/auth"
	"github.com/iotflow/ingestor/pkg/liveness"
	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/obs"
	"github.com/iotflow/ingestor/pkg/ratelimit"
	"github.com/iotflow/ingestor/pkg/retry"
	"github.com/iotflow/ingestor/pkg/telemetry"
	"github.com/iotflow/ingestor/pkg/timeseries"
)

// DefaultMaxRequestsPerWindow and DefaultWindowLength are the Rate Limiter's default
// budget; callers may override per deployment.
const (
	DefaultMaxRequestsPerWindow = 120
	DefaultWindowLength         = time.Minute
)

// Source bundles everything Ingest needs from either transport. Exactly one
// of PathDeviceID (request) or Topic (broker) is populated.
type Source struct {
	Kind auth.SourceKind

	// HeaderAPIKey is set by the request transport; left empty for broker
	// sources, whose key travels inside the JSON payload.
	HeaderAPIKey string

	PathDeviceID *int64
	Topic        *models.ParsedTopic

	Payload []byte
}

// Pipeline wires the Authenticator, Rate Limiter, Telemetry Normalizer,
// Time-Series Adapter, Liveness Cache, and Metadata Store into the single
// `ingest(source, raw_payload) -> Outcome` entry point.
type Pipeline struct {
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	tsa           timeseries.Store
	msa           metadata.Store
	lc            *liveness.Cache
	log           logger.Logger

	maxRequests int
	windowLen   time.Duration

	tsaRetryOn func(error) bool
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithRateLimit overrides the default request budget.
func WithRateLimit(maxRequests int, windowLen time.Duration) Option {
	return func(p *Pipeline) {
		p.maxRequests = maxRequests
		p.windowLen = windowLen
	}
}

// New builds a Pipeline. msa may be nil; if so, step 7 (touch_last_seen) is
// skipped entirely rather than treated as a failure.
func New(
	authenticator *auth.Authenticator,
	limiter *ratelimit.Limiter,
	tsa timeseries.Store,
	msa metadata.Store,
	lc *liveness.Cache,
	log logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		authenticator: authenticator,
		limiter:       limiter,
		tsa:           tsa,
		msa:           msa,
		lc:            lc,
		log:           log,
		maxRequests:   DefaultMaxRequestsPerWindow,
		windowLen:     DefaultWindowLength,
		tsaRetryOn:    func(err error) bool { return errors.Is(err, timeseries.ErrTransient) },
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Ingest runs the eight-step ingestion algorithm (extract key, authenticate,
// rate-limit, normalize, write, skip the liveness touch for a stale retained
// replay, touch last-seen, report) and always returns an Outcome tagged with
// a fresh RequestID; it has no error return, so failures surface as Outcome
// kinds.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (outcome models.Outcome) {
	start := time.Now()

	defer func() {
		obs.RecordOutcome(ctx, outcome.Kind.String(), time.Since(start))
	}()

	requestID := uuid.NewString()

	apiKey, malformed := p.extractAPIKey(src)
	if malformed {
		return p.outcome(requestID, models.Outcome{
			Kind:   models.OutcomeRejectedMalformed,
			Reason: "payload is not a JSON object",
		})
	}

	authSrc := auth.Source{
		Kind:         src.Kind,
		APIKey:       apiKey,
		PathDeviceID: src.PathDeviceID,
		Topic:        src.Topic,
	}

	result, err := p.authenticator.Authenticate(ctx, authSrc)
	if err != nil {
		if p.log != nil {
			p.log.Warn().Err(err).Msg("ingest: authenticator store unavailable")
		}

		return p.outcome(requestID, models.Outcome{Kind: models.OutcomeStoreUnavailable, Reason: err.Error()})
	}

	if rejected, ok := rejectionOutcome(result); ok {
		obs.RecordAuthRejection(ctx, rejected.Kind.String())
		return p.outcome(requestID, rejected)
	}

	deviceID := result.Device.ID

	rlResult, err := p.limiter.Check(ctx, "device:"+strconv.FormatInt(deviceID, 10), p.maxRequests, p.windowLen)
	if err != nil {
		return p.outcome(requestID, models.Outcome{Kind: models.OutcomeStoreUnavailable, Reason: err.Error()})
	}

	if !rlResult.Allowed {
		obs.RecordRateLimited(ctx, "device:"+strconv.FormatInt(deviceID, 10))

		return p.outcome(requestID, models.Outcome{
			Kind:       models.OutcomeRateLimited,
			RetryAfter: time.Until(rlResult.ResetAt),
		})
	}

	if src.Topic != nil && src.Topic.Kind == models.TopicHeartbeat {
		return p.outcome(requestID, p.touchLiveness(ctx, deviceID, time.Now().UTC()))
	}

	measurementHint := ""
	if src.Topic != nil {
		measurementHint = src.Topic.SubTopic
	}

	batch, err := telemetry.NormalizeJSON(deviceID, src.Payload, measurementHint)
	if err != nil {
		return p.outcome(requestID, models.Outcome{Kind: models.OutcomeRejectedMalformed, Reason: err.Error()})
	}

	if err := p.writeToTSA(ctx, batch); err != nil {
		if p.log != nil {
			p.log.Warn().Err(err).Int64("device_id", deviceID).Msg("ingest: TSA write failed, not refreshing LC")
		}

		// LC is deliberately not refreshed: the caller may retry with the
		// same payload, and LC must not advertise freshness the primary
		// store never durably recorded.
		return p.outcome(requestID, models.Outcome{Kind: models.OutcomeStoreUnavailable, Reason: err.Error()})
	}

	if p.retainedStale(src, batch.Timestamp) {
		// A replayed retained message older than the freshness window must
		// not resurrect a device; the sample still lands in the TSA, but LC
		// and last_seen are left untouched.
		return p.outcome(requestID, models.Outcome{
			Kind:       models.OutcomeAccepted,
			PointCount: batch.Len(),
			Timestamp:  batch.Timestamp,
		})
	}

	out := p.touchLiveness(ctx, deviceID, batch.Timestamp)
	out.PointCount = batch.Len()

	return p.outcome(requestID, out)
}

// touchLiveness implements steps 7-8's liveness refresh: an LC Touch plus a
// best-effort MSA last_seen write, both tagged onto an accepted Outcome.
func (p *Pipeline) touchLiveness(ctx context.Context, deviceID int64, ts time.Time) models.Outcome {
	if p.lc != nil {
		p.lc.Touch(ctx, deviceID, ts)
	}

	if p.msa != nil {
		if err := p.msa.TouchLastSeen(ctx, deviceID, ts); err != nil && p.log != nil {
			p.log.Debug().Err(err).Int64("device_id", deviceID).Msg("ingest: best-effort last_seen touch failed")
		}
	}

	return models.Outcome{Kind: models.OutcomeAccepted, Timestamp: ts}
}

// retainedStale reports whether src is a retained replay whose own payload
// timestamp already fell outside the Liveness Cache's freshness window by
// the time it was delivered.
func (p *Pipeline) retainedStale(src Source, ts time.Time) bool {
	if src.Topic == nil || !src.Topic.Retained || p.lc == nil {
		return false
	}

	return ts.Before(time.Now().UTC().Add(-p.lc.FreshnessWindow()))
}

func (p *Pipeline) outcome(requestID string, o models.Outcome) models.Outcome {
	o.RequestID = requestID
	return o
}

// extractAPIKey implements step 1: broker keys travel inside
// the JSON payload, request keys arrive out of band via HeaderAPIKey.
func (p *Pipeline) extractAPIKey(src Source) (key string, malformed bool) {
	if src.Kind == auth.SourceRequest {
		return src.HeaderAPIKey, false
	}

	var peek struct {
		APIKey string `json:"api_key"`
	}

	if err := json.Unmarshal(src.Payload, &peek); err != nil {
		return "", true
	}

	return peek.APIKey, false
}

func rejectionOutcome(result auth.Result) (models.Outcome, bool) {
	switch result.Kind {
	case auth.Authorized:
		return models.Outcome{}, false
	case auth.RejectedUnknownKey:
		return models.Outcome{Kind: models.OutcomeRejectedUnknownKey}, true
	case auth.RejectedInactive:
		return models.Outcome{Kind: models.OutcomeRejectedInactive, DeviceStatus: result.DeviceStatus, DeviceID: result.DeviceID}, true
	case auth.RejectedTopicMismatch:
		return models.Outcome{Kind: models.OutcomeRejectedTopicMismatch, DeviceID: result.DeviceID, Topic: result.Topic}, true
	default:
		return models.Outcome{Kind: models.OutcomeRejectedMalformed, Reason: result.Reason}, true
	}
}

// writeToTSA implements step 5: ensure_series for every new
// field then append, attempted up to 3 times with jittered backoff.
func (p *Pipeline) writeToTSA(ctx context.Context, batch *models.SampleBatch) error {
	attempt := 0

	return retry.Do(ctx, retry.Default, p.tsaRetryOn, func(ctx context.Context) error {
		attempt++
		obs.RecordTSARetry(ctx, attempt)

		for _, point := range batch.Points {
			if err := p.tsa.EnsureSeries(ctx, point.DeviceID, point.Measurement, point.Field, point.Value.Kind); err != nil {
				return fmt.Errorf("ensure series %q: %w", point.Field, err)
			}
		}

		return p.tsa.Append(ctx, batch.Points)
	})
}
