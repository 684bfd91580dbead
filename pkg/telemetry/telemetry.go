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

// Package telemetry is the Telemetry Normalizer (TN): it converts a
// heterogeneous device payload into the canonical models.SampleBatch
// shape, regardless of whether it arrived structured or flat.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/iotflow/ingestor/pkg/models"
)

// ErrMalformed wraps every rejection reason the normalizer produces;
// callers map it to models.OutcomeRejectedMalformed.
var ErrMalformed = errors.New("telemetry: malformed payload")

// DefaultMeasurement is used when no topic suffix is available (request
// transport).
const DefaultMeasurement = "telemetry"

// epochMillisThreshold distinguishes epoch-seconds from epoch-milliseconds:
// numeric timestamps at or above 10^10 are treated as milliseconds.
const epochMillisThreshold = 1e10

var reservedTopLevelKeys = map[string]struct{}{
	"api_key":   {},
	"timestamp": {},
	"ts":        {},
}

// reservedSuffixChars strips anything that isn't safe in a measurement name
// or series path segment: user-controlled characters never reach the last
// path segment unescaped.
var reservedSuffixChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// NormalizeJSON decodes raw JSON bytes and converts them into a SampleBatch
// for deviceID. measurementHint is the broker topic suffix, or "" for the
// request transport. Decoding uses json.Number so integer and floating
// fields can be told apart per type mapping.
func NormalizeJSON(deviceID int64, raw []byte, measurementHint string) (*models.SampleBatch, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %w", ErrMalformed, err)
	}

	return Normalize(deviceID, payload, measurementHint)
}

// Normalize converts an already-decoded payload (numbers as json.Number,
// e.g. from a decoder with UseNumber) into a SampleBatch for deviceID.
// measurementHint is the broker topic suffix, or "" for the request
// transport.
func Normalize(deviceID int64, payload map[string]interface{}, measurementHint string) (*models.SampleBatch, error) {
	ts, err := extractTimestamp(payload)
	if err != nil {
		return nil, err
	}

	tags, err := extractTags(payload)
	if err != nil {
		return nil, err
	}

	fields, err := extractFields(payload)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no telemetry fields present", ErrMalformed)
	}

	measurement := sanitizeMeasurement(measurementHint)

	points := make([]models.Point, 0, len(fields))
	for name, value := range fields {
		points = append(points, models.Point{
			DeviceID:    deviceID,
			Measurement: measurement,
			Field:       name,
			Value:       value,
			Tags:        tags,
			Timestamp:   ts,
		})
	}

	return &models.SampleBatch{
		DeviceID:    deviceID,
		Measurement: measurement,
		Timestamp:   ts,
		Points:      points,
	}, nil
}

func sanitizeMeasurement(hint string) string {
	hint = reservedSuffixChars.ReplaceAllString(hint, "")
	if hint == "" {
		return DefaultMeasurement
	}

	return hint
}

// extractTimestamp implements three accepted forms plus the
// "absent -> now" default.
func extractTimestamp(payload map[string]interface{}) (time.Time, error) {
	raw, ok := payload["timestamp"]
	if !ok {
		raw, ok = payload["ts"]
	}

	if !ok {
		return time.Now().UTC(), nil
	}

	switch v := raw.(type) {
	case string:
		return parseTimestampString(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid numeric timestamp %q", ErrMalformed, v)
		}

		return parseTimestampNumeric(n), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported timestamp type %T", ErrMalformed, raw)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return parseTimestampNumeric(n), nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, s)
}

func parseTimestampNumeric(n float64) time.Time {
	if n >= epochMillisThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}

	return time.Unix(int64(n), 0).UTC()
}

// extractTags lifts payload["metadata"] into string tags prefixed meta_.
func extractTags(payload map[string]interface{}) (map[string]string, error) {
	tags := make(map[string]string)

	raw, ok := payload["metadata"]
	if !ok {
		return tags, nil
	}

	meta, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: metadata must be an object", ErrMalformed)
	}

	for k, v := range meta {
		if k == "device_id" || k == "device_type" {
			continue // reserved, set by the pipeline
		}

		tags["meta_"+k] = fmt.Sprintf("%v", v)
	}

	return tags, nil
}

// extractFields dispatches on whether payload carries a nested "data" object
// (structured form) or has its fields at the top level (flat form).
func extractFields(payload map[string]interface{}) (map[string]models.FieldValue, error) {
	if data, ok := payload["data"]; ok {
		obj, ok := data.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: data must be an object", ErrMalformed)
		}

		return fieldsFromMap(obj)
	}

	flat := make(map[string]interface{}, len(payload))

	for k, v := range payload {
		if _, reserved := reservedTopLevelKeys[k]; reserved || k == "metadata" {
			continue
		}

		flat[k] = v
	}

	return fieldsFromMap(flat)
}

func fieldsFromMap(m map[string]interface{}) (map[string]models.FieldValue, error) {
	out := make(map[string]models.FieldValue, len(m))

	for name, raw := range m {
		value, err := toFieldValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrMalformed, name, err)
		}

		out[name] = value
	}

	return out, nil
}

// toFieldValue applies the field-kind type mapping, JSON-encoding nested
// objects/arrays to a text field. Numeric values arrive as json.Number so
// "22" maps to int64 and "22.5"/"22e0" map to float64, matching the wire
// representation rather than a post-hoc float comparison.
func toFieldValue(raw interface{}) (models.FieldValue, error) {
	switch v := raw.(type) {
	case bool:
		return models.BoolValue(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return models.IntValue(i), nil
		}

		f, err := v.Float64()
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("invalid numeric field %q: %w", v, err)
		}

		return models.FloatValue(f), nil
	case string:
		return models.TextValue(v), nil
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return models.FieldValue{}, fmt.Errorf("encode nested field: %w", err)
		}

		return models.TextValue(string(encoded)), nil
	case nil:
		return models.FieldValue{}, errors.New("null field value")
	default:
		return models.FieldValue{}, fmt.Errorf("unsupported field type %T", raw)
	}
}
