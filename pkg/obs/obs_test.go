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

package obs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// These exercise the no-exporter-configured path: otel.Meter falls back to a
// no-op implementation, so every Record* call must be a safe no-op rather
// than a panic or nil-pointer dereference.
func TestRecordFunctionsDoNotPanicWithoutExporter(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		RecordAuthRejection(ctx, "unknown_key")
		RecordOverflowDrop(ctx, "telemetry")
		RecordMalformedTopic(ctx)
		RecordRateLimited(ctx, "device:7")
		RecordDegradedRateLimit(ctx)
		RecordTSARetry(ctx, 1)
		RecordTSARetry(ctx, 2)
		RecordOutcome(ctx, "accepted", 10*time.Millisecond)
	})
}

func TestRecordTSARetrySkipsFirstAttempt(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordTSARetry(context.Background(), 0)
		RecordTSARetry(context.Background(), 1)
	})
}
