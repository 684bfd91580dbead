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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTouchCoalescerFirstWriteAlwaysAllowed(t *testing.T) {
	c := newTouchCoalescer()

	assert.True(t, c.shouldWrite(1, time.Now()))
}

func TestTouchCoalescerDropsWritesWithinWindow(t *testing.T) {
	c := newTouchCoalescer()
	base := time.Now()

	assert.True(t, c.shouldWrite(1, base))
	assert.False(t, c.shouldWrite(1, base.Add(100*time.Millisecond)))
	assert.False(t, c.shouldWrite(1, base.Add(999*time.Millisecond)))
}

func TestTouchCoalescerAllowsWriteAfterWindow(t *testing.T) {
	c := newTouchCoalescer()
	base := time.Now()

	assert.True(t, c.shouldWrite(1, base))
	assert.True(t, c.shouldWrite(1, base.Add(time.Second)))
	assert.True(t, c.shouldWrite(1, base.Add(2*time.Second+time.Millisecond)))
}

func TestTouchCoalescerIsPerDevice(t *testing.T) {
	c := newTouchCoalescer()
	base := time.Now()

	assert.True(t, c.shouldWrite(1, base))
	assert.True(t, c.shouldWrite(2, base))
	assert.False(t, c.shouldWrite(1, base.Add(10*time.Millisecond)))
	assert.True(t, c.shouldWrite(3, base.Add(10*time.Millisecond)))
}

func TestTouchCoalescerConcurrentAccess(t *testing.T) {
	c := newTouchCoalescer()
	base := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if c.shouldWrite(42, base) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, allowed)
}
