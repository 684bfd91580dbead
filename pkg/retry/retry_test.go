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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, IsTransient,
		func(context.Context) error {
			calls++
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUpToMaxAttemptsThenFails(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, IsTransient,
		func(context.Context) error {
			calls++
			return errBoom
		})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, IsTransient,
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}

			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsEarlyOnNonTransientError(t *testing.T) {
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
		func(error) bool { return false },
		func(context.Context) error {
			calls++
			return errBoom
		})

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0

	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, IsTransient,
		func(context.Context) error {
			calls++
			return errBoom
		})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestPolicyDelayIsCappedAtMaxDelay(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second}

	for attempt := 1; attempt <= 10; attempt++ {
		assert.LessOrEqual(t, p.delay(attempt), p.MaxDelay)
	}
}
