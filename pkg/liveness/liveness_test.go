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

package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/sharedstate"
)

func TestCacheTouchThenGet(t *testing.T) {
	c := New(nil)
	ts := time.Now().UTC()

	c.Touch(context.Background(), 7, ts)

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.LivenessOnline, rec.Status)
	assert.WithinDuration(t, ts, rec.LastSeen, time.Millisecond)
}

func TestCacheGetUnknownDevice(t *testing.T) {
	c := New(nil)

	_, ok := c.Get(999)
	assert.False(t, ok)
	assert.Equal(t, models.LivenessUnknown, c.Evaluate(999, time.Now(), true))
}

func TestCacheEvaluateOnlineWithinFreshnessWindow(t *testing.T) {
	c := New(nil, WithFreshnessWindow(5*time.Minute))
	now := time.Now().UTC()

	c.Touch(context.Background(), 7, now.Add(-time.Minute))

	assert.Equal(t, models.LivenessOnline, c.Evaluate(7, now, true))
}

func TestCacheEvaluateOfflineWhenStale(t *testing.T) {
	c := New(nil, WithFreshnessWindow(5*time.Minute))
	now := time.Now().UTC()

	c.Touch(context.Background(), 7, now.Add(-10*time.Minute))

	assert.Equal(t, models.LivenessOffline, c.Evaluate(7, now, true))
}

func TestCacheEvaluateOfflineWhenDeviceInactive(t *testing.T) {
	c := New(nil)
	now := time.Now().UTC()

	c.Touch(context.Background(), 7, now)

	assert.Equal(t, models.LivenessOffline, c.Evaluate(7, now, false))
}

func TestCacheTouchResolvesConflictByNewestTimestamp(t *testing.T) {
	c := New(nil)
	base := time.Now().UTC()

	c.Touch(context.Background(), 7, base)
	c.Touch(context.Background(), 7, base.Add(-time.Hour)) // older, must not win

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.WithinDuration(t, base, rec.LastSeen, time.Millisecond)
}

func TestCacheSetStatusOverridesToOffline(t *testing.T) {
	c := New(nil)

	c.Touch(context.Background(), 7, time.Now().UTC())
	c.SetStatus(context.Background(), 7, models.LivenessOffline)

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.LivenessOffline, rec.Status)
}

func TestCacheClearRemovesEntry(t *testing.T) {
	c := New(nil)

	c.Touch(context.Background(), 7, time.Now().UTC())
	c.Clear(context.Background(), 7)

	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestCacheClearAllRemovesEveryEntry(t *testing.T) {
	c := New(nil)

	c.Touch(context.Background(), 1, time.Now().UTC())
	c.Touch(context.Background(), 2, time.Now().UTC())
	c.ClearAll()

	_, ok1 := c.Get(1)
	_, ok2 := c.Get(2)
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestCacheWriteThroughToSharedStore(t *testing.T) {
	shared := sharedstate.NewMockStore()
	c := New(nil, WithSharedStore(shared))
	ts := time.Now().UTC()

	c.Touch(context.Background(), 7, ts)

	status, found, err := shared.Get(context.Background(), "device:status:7")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "online", status)
}

func TestCacheGetManySingleRoundTripOnMiss(t *testing.T) {
	shared := sharedstate.NewMockStore()
	ts := time.Now().UTC()
	require.NoError(t, shared.Set(context.Background(), "device:status:9", "online", time.Hour))
	require.NoError(t, shared.Set(context.Background(), "device:lastseen:9", ts.Format(time.RFC3339), time.Hour))

	c := New(nil, WithSharedStore(shared))
	c.Touch(context.Background(), 7, ts) // local hit

	result := c.GetMany(context.Background(), []int64{7, 9, 42})

	assert.Contains(t, result, int64(7))
	assert.Contains(t, result, int64(9))
	assert.NotContains(t, result, int64(42))
}

func TestCacheDegradesToLocalWhenSharedUnavailable(t *testing.T) {
	shared := sharedstate.NewMockStore()
	shared.Unavailable = true

	c := New(nil, WithSharedStore(shared))

	assert.NotPanics(t, func() {
		c.Touch(context.Background(), 7, time.Now().UTC())
	})

	rec, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.LivenessOnline, rec.Status)
}

func TestCacheConcurrentTouchIsSafe(t *testing.T) {
	c := New(nil)

	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			c.Touch(context.Background(), int64(n%10), time.Now().UTC())
		}(i)
	}

	wg.Wait()

	for id := int64(0); id < 10; id++ {
		_, ok := c.Get(id)
		assert.True(t, ok)
	}
}
