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

package models

import "time"

// LivenessStatus is the cached view of a device's connectivity, distinct
// from DeviceStatus (the admin lifecycle state stored in the metadata
// store). "online" is an assertion the cache makes about freshness;
// DeviceStatus is what the operator set.
type LivenessStatus string

const (
	LivenessOnline  LivenessStatus = "online"
	LivenessOffline LivenessStatus = "offline"
	LivenessUnknown LivenessStatus = "unknown"
)

// LivenessRecord is the Liveness Cache's view of one device. Version breaks
// ties between two writers that observe the same LastSeen timestamp.
type LivenessRecord struct {
	DeviceID int64
	Status   LivenessStatus
	LastSeen time.Time
	Version  uint64
}

// Newer reports whether candidate should replace r under the cache's
// conflict-resolution rule: higher LastSeen wins, ties broken by version.
func (r LivenessRecord) Newer(candidate LivenessRecord) bool {
	if candidate.LastSeen.After(r.LastSeen) {
		return true
	}

	if candidate.LastSeen.Equal(r.LastSeen) {
		return candidate.Version > r.Version
	}

	return false
}

// Evaluate derives the online/offline view at time now given a freshness
// window: online iff the device is active and now-last_seen is within the
// window.
func (r LivenessRecord) Evaluate(now time.Time, freshnessWindow time.Duration, deviceActive bool) LivenessStatus {
	if r.Status == "" {
		return LivenessUnknown
	}

	if deviceActive && r.Status == LivenessOnline && now.Sub(r.LastSeen) < freshnessWindow {
		return LivenessOnline
	}

	if r.Status == LivenessUnknown {
		return LivenessUnknown
	}

	return LivenessOffline
}
