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

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/sharedstate"
)

func TestCheckLocalAllowsUpToMax(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Check(ctx, "device:7", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := l.Check(ctx, "device:7", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestCheckLocalIsPerKey(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	_, err := l.Check(ctx, "device:7", 1, time.Minute)
	require.NoError(t, err)

	result, err := l.Check(ctx, "device:9", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckSharedDelegatesToStore(t *testing.T) {
	store := sharedstate.NewMockStore()
	l := New(store, nil)
	ctx := context.Background()

	result, err := l.Check(ctx, "device:7", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)

	result, err = l.Check(ctx, "device:7", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	result, err = l.Check(ctx, "device:7", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestCheckFailsOpenWhenSharedStoreUnavailable(t *testing.T) {
	store := sharedstate.NewMockStore()
	store.Unavailable = true

	l := New(store, nil)

	result, err := l.Check(context.Background(), "device:7", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.EqualValues(t, 1, l.DegradedCount())
}

func TestCheckLocalIsAtomicUnderConcurrency(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup

	allowed := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := l.Check(ctx, "device:concurrent", 50, time.Minute)
			require.NoError(t, err)
			allowed <- result.Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	var allowedCount int

	for a := range allowed {
		if a {
			allowedCount++
		}
	}

	assert.Equal(t, 50, allowedCount)
}
