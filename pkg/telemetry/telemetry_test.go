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

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
)

func fieldByName(points []models.Point, name string) (models.Point, bool) {
	for _, p := range points {
		if p.Field == name {
			return p, true
		}
	}

	return models.Point{}, false
}

func TestNormalizeJSONStructuredFormWithISOTimestamp(t *testing.T) {
	raw := []byte(`{"api_key":"K7","data":{"temperature":22.5,"humidity":60},"timestamp":"2024-01-01T00:00:00Z"}`)

	batch, err := NormalizeJSON(7, raw, "telemetry")
	require.NoError(t, err)
	assert.Equal(t, int64(7), batch.DeviceID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), batch.Timestamp)
	require.Len(t, batch.Points, 2)

	temp, ok := fieldByName(batch.Points, "temperature")
	require.True(t, ok)
	assert.Equal(t, models.FieldFloat, temp.Value.Kind)
	assert.InDelta(t, 22.5, temp.Value.Float, 0.0001)

	humidity, ok := fieldByName(batch.Points, "humidity")
	require.True(t, ok)
	assert.Equal(t, models.FieldInt, humidity.Value.Kind)
	assert.Equal(t, int64(60), humidity.Value.Int)
}

func TestNormalizeJSONFlatFormWithNumericSecondsTimestamp(t *testing.T) {
	raw := []byte(`{"api_key":"K7","ts":"1704067260","temperature":23.0}`)

	batch, err := NormalizeJSON(7, raw, "sensors")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1704067260000).UTC(), batch.Timestamp)
	require.Len(t, batch.Points, 1)
	assert.Equal(t, "sensors", batch.Measurement)
}

func TestNormalizeJSONNumericMillisecondTimestamp(t *testing.T) {
	raw := []byte(`{"data":{"x":1},"ts":1704067200000}`)

	batch, err := NormalizeJSON(7, raw, "")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1704067200000).UTC(), batch.Timestamp)
	assert.Equal(t, DefaultMeasurement, batch.Measurement)
}

func TestNormalizeJSONAbsentTimestampDefaultsToNow(t *testing.T) {
	raw := []byte(`{"data":{"x":1}}`)

	before := time.Now().UTC()
	batch, err := NormalizeJSON(7, raw, "")
	after := time.Now().UTC()

	require.NoError(t, err)
	assert.True(t, !batch.Timestamp.Before(before) && !batch.Timestamp.After(after))
}

func TestNormalizeJSONMetadataBecomesPrefixedTags(t *testing.T) {
	raw := []byte(`{"data":{"x":1},"metadata":{"location":"lab","device_id":"ignored"}}`)

	batch, err := NormalizeJSON(7, raw, "")
	require.NoError(t, err)

	point := batch.Points[0]
	assert.Equal(t, "lab", point.Tags["meta_location"])
	_, hasDeviceID := point.Tags["meta_device_id"]
	assert.False(t, hasDeviceID)
}

func TestNormalizeJSONFlatFormExcludesReservedKeys(t *testing.T) {
	raw := []byte(`{"api_key":"K7","timestamp":"2024-01-01T00:00:00Z","temperature":1}`)

	batch, err := NormalizeJSON(7, raw, "")
	require.NoError(t, err)
	require.Len(t, batch.Points, 1)
	assert.Equal(t, "temperature", batch.Points[0].Field)
}

func TestNormalizeJSONNestedObjectBecomesTextField(t *testing.T) {
	raw := []byte(`{"data":{"location":{"lat":1.5,"lon":2.5}}}`)

	batch, err := NormalizeJSON(7, raw, "")
	require.NoError(t, err)

	loc, ok := fieldByName(batch.Points, "location")
	require.True(t, ok)
	assert.Equal(t, models.FieldText, loc.Value.Kind)
	assert.Contains(t, loc.Value.Text, "lat")
}

func TestNormalizeJSONBoolField(t *testing.T) {
	raw := []byte(`{"data":{"active":true}}`)

	batch, err := NormalizeJSON(7, raw, "")
	require.NoError(t, err)

	f, ok := fieldByName(batch.Points, "active")
	require.True(t, ok)
	assert.Equal(t, models.FieldBool, f.Value.Kind)
	assert.True(t, f.Value.Bool)
}

func TestNormalizeJSONRejectsInvalidJSON(t *testing.T) {
	_, err := NormalizeJSON(7, []byte(`not json`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNormalizeJSONRejectsEmptyFieldSet(t *testing.T) {
	raw := []byte(`{"api_key":"K7"}`)

	_, err := NormalizeJSON(7, raw, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNormalizeJSONRejectsNonObjectData(t *testing.T) {
	raw := []byte(`{"data":"not-an-object"}`)

	_, err := NormalizeJSON(7, raw, "")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSanitizeMeasurementStripsReservedCharacters(t *testing.T) {
	assert.Equal(t, "sensorsetc", sanitizeMeasurement("sensors/../etc"))
	assert.Equal(t, DefaultMeasurement, sanitizeMeasurement("//"))
}
