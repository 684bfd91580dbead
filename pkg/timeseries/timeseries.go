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

// Package timeseries is the Time-Series Adapter (TSA): a narrow interface
// over the time-series store.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/iotflow/ingestor/pkg/models"
)

// ErrTransient wraps a failure the caller (Ingestion Pipeline) should retry
// with the bounded backoff policy in pkg/retry.
var ErrTransient = errors.New("timeseries store: transient error")

// ErrPermanent wraps a failure that must not be retried (schema violation,
// oversize field).
var ErrPermanent = errors.New("timeseries store: permanent error")

// Store is the Time-Series Adapter surface. mock_store.go is a hand-written
// fake, not mockgen output, matching the Metadata Store Adapter's approach.
type Store interface {
	// EnsureSeries prepares deviceID/measurement/field for writes. Idempotent;
	// a no-op for backends that auto-create series on first write.
	EnsureSeries(ctx context.Context, deviceID int64, measurement, field string, kind models.FieldKind) error

	// Append writes every point atomically per batch.
	Append(ctx context.Context, points []models.Point) error

	// QueryRange returns points for deviceID within [start, end), newest
	// first, bounded by limit.
	QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]models.Point, error)

	// QueryLatest returns the most recent point set for deviceID, or nil if
	// none exists.
	QueryLatest(ctx context.Context, deviceID int64) ([]models.Point, error)

	// Count returns the number of points recorded for deviceID since start.
	Count(ctx context.Context, deviceID int64, start time.Time) (int64, error)

	// DeleteRange deletes points for deviceID within [start, end).
	DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) error

	Close() error
}

// reservedPathChars matches everything not safe in the last segment of a
// series path; requires escaping user-controlled characters
// there.
var reservedPathChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// EscapeFieldName sanitizes a user-controlled field name for use as the
// last segment of a series path.
func EscapeFieldName(field string) string {
	escaped := reservedPathChars.ReplaceAllString(field, "_")
	if escaped == "" {
		return "_"
	}

	return escaped
}

// SeriesPath builds the canonical path names:
// "<root>.devices.device_<id>.<field>".
func SeriesPath(root string, deviceID int64, field string) string {
	return fmt.Sprintf("%s.devices.device_%d.%s", root, deviceID, EscapeFieldName(field))
}
