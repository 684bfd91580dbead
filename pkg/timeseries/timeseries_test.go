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

package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
)

func TestEscapeFieldNameReplacesReservedCharacters(t *testing.T) {
	assert.Equal(t, "temp_c", EscapeFieldName("temp_c"))
	assert.Equal(t, "a_b_c", EscapeFieldName("a/b.c"))
	assert.Equal(t, "_", EscapeFieldName("///"))
}

func TestSeriesPathBuildsCanonicalPattern(t *testing.T) {
	path := SeriesPath("iotflow", 42, "temperature")
	assert.Equal(t, "iotflow.devices.device_42.temperature", path)
}

func TestSeriesPathEscapesUserControlledField(t *testing.T) {
	path := SeriesPath("iotflow", 42, "../etc/passwd")
	assert.Equal(t, "iotflow.devices.device_42._etc_passwd", path)
}

func TestMockStoreAppendAndQueryRange(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.Append(ctx, []models.Point{
		{DeviceID: 7, Field: "temperature", Value: models.FloatValue(20), Timestamp: now.Add(-2 * time.Minute)},
		{DeviceID: 7, Field: "temperature", Value: models.FloatValue(21), Timestamp: now.Add(-1 * time.Minute)},
		{DeviceID: 9, Field: "temperature", Value: models.FloatValue(99), Timestamp: now},
	})
	require.NoError(t, err)

	points, err := store.QueryRange(ctx, 7, now.Add(-5*time.Minute), now, 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(7), points[0].DeviceID)
	assert.True(t, points[0].Timestamp.After(points[1].Timestamp))
}

func TestMockStoreQueryLatestReturnsMostRecentPerField(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, []models.Point{
		{DeviceID: 7, Field: "temperature", Value: models.FloatValue(20), Timestamp: now.Add(-time.Minute)},
		{DeviceID: 7, Field: "temperature", Value: models.FloatValue(21), Timestamp: now},
		{DeviceID: 7, Field: "humidity", Value: models.IntValue(55), Timestamp: now},
	}))

	latest, err := store.QueryLatest(ctx, 7)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	for _, p := range latest {
		if p.Field == "temperature" {
			assert.InDelta(t, 21, p.Value.Float, 0.0001)
		}
	}
}

func TestMockStoreCountFiltersByDeviceAndStart(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, []models.Point{
		{DeviceID: 7, Field: "x", Value: models.IntValue(1), Timestamp: now.Add(-10 * time.Minute)},
		{DeviceID: 7, Field: "x", Value: models.IntValue(2), Timestamp: now},
	}))

	count, err := store.Count(ctx, 7, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMockStoreDeleteRangeRemovesMatchingPoints(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Append(ctx, []models.Point{
		{DeviceID: 7, Field: "x", Value: models.IntValue(1), Timestamp: now.Add(-time.Minute)},
		{DeviceID: 7, Field: "x", Value: models.IntValue(2), Timestamp: now},
	}))

	require.NoError(t, store.DeleteRange(ctx, 7, now.Add(-2*time.Minute), now))

	points, err := store.QueryRange(ctx, 7, now.Add(-time.Hour), now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, now, points[0].Timestamp)
}

func TestMockStoreInjectedErrors(t *testing.T) {
	store := NewMockStore()
	store.AppendErr = ErrTransient

	err := store.Append(context.Background(), []models.Point{{DeviceID: 1}})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestMockStoreClose(t *testing.T) {
	store := NewMockStore()
	assert.NoError(t, store.Close())
	assert.True(t, store.closed)
}

var _ Store = (*MockStore)(nil)
