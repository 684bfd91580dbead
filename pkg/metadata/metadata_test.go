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

package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
)

func TestMockStoreFindByID(t *testing.T) {
	store := NewMockStore(&models.Device{ID: 1, Name: "sensor-1", Status: models.DeviceActive})

	d, err := store.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", d.Name)

	_, err = store.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMockStoreFindByAPIKey(t *testing.T) {
	store := NewMockStore(&models.Device{ID: 1, APIKey: "secret-key", Status: models.DeviceActive})

	d, err := store.FindByAPIKey(context.Background(), "secret-key")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)

	_, err = store.FindByAPIKey(context.Background(), "wrong-key")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMockStoreTouchLastSeenRecordsCall(t *testing.T) {
	store := NewMockStore(&models.Device{ID: 1})
	ts := time.Now()

	err := store.TouchLastSeen(context.Background(), 1, ts)
	require.NoError(t, err)

	require.Len(t, store.Touches, 1)
	assert.Equal(t, int64(1), store.Touches[0].ID)

	d, err := store.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.WithinDuration(t, ts, d.LastSeen, time.Millisecond)
}

func TestMockStoreListActiveOnlyReturnsActiveDevices(t *testing.T) {
	store := NewMockStore(
		&models.Device{ID: 1, Status: models.DeviceActive},
		&models.Device{ID: 2, Status: models.DeviceInactive},
		&models.Device{ID: 3, Status: models.DeviceActive},
	)

	ch, err := store.ListActive(context.Background())
	require.NoError(t, err)

	var ids []int64

	for item := range ch {
		require.NoError(t, item.Err)
		ids = append(ids, item.Device.ID)
	}

	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestMockStoreInjectedErrors(t *testing.T) {
	store := NewMockStore()
	store.FindByIDErr = ErrTransient
	store.FindByAPIKeyErr = ErrTransient
	store.TouchErr = ErrTransient
	store.ListActiveErr = ErrTransient

	_, err := store.FindByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrTransient)

	_, err = store.FindByAPIKey(context.Background(), "k")
	assert.ErrorIs(t, err, ErrTransient)

	err = store.TouchLastSeen(context.Background(), 1, time.Now())
	assert.ErrorIs(t, err, ErrTransient)

	_, err = store.ListActive(context.Background())
	assert.ErrorIs(t, err, ErrTransient)
}

func TestMockStoreClose(t *testing.T) {
	store := NewMockStore()
	assert.False(t, store.Closed())

	require.NoError(t, store.Close())
	assert.True(t, store.Closed())
}

// compile-time assertion that MockStore satisfies Store.
var _ Store = (*MockStore)(nil)
