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
	"time"
)

// lastSeenWindow is the coalescing window named: "at most
// one write per device per 1s window."
const lastSeenWindow = time.Second

// touchCoalescer drops redundant TouchLastSeen calls that arrive within
// lastSeenWindow of the last accepted write for a device.
type touchCoalescer struct {
	mu   sync.Mutex
	last map[int64]time.Time
}

func newTouchCoalescer() *touchCoalescer {
	return &touchCoalescer{last: make(map[int64]time.Time)}
}

// shouldWrite reports whether a write for id at ts should proceed, and
// records ts as the last attempted write time when it does.
func (c *touchCoalescer) shouldWrite(id int64, ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.last[id]
	if ok && ts.Sub(prev) < lastSeenWindow {
		return false
	}

	c.last[id] = ts

	return true
}
