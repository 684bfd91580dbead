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

// DeviceStatus is the admin-facing lifecycle state of a Device row, distinct
// from the derived online/offline/unknown liveness view (see LivenessStatus).
type DeviceStatus string

const (
	DeviceActive      DeviceStatus = "active"
	DeviceInactive    DeviceStatus = "inactive"
	DeviceMaintenance DeviceStatus = "maintenance"
)

// Device is a registered telemetry producer, owned exclusively by the
// metadata store. The ingestion core never mutates anything on this struct
// except LastSeen, and only via the coalesced touch_last_seen path.
type Device struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	APIKey     string       `json:"-"` // never logged or JSON-encoded
	Type       string       `json:"type,omitempty"`
	Status     DeviceStatus `json:"status"`
	Firmware   string       `json:"firmware,omitempty"`
	Hardware   string       `json:"hardware,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	LastSeen   time.Time    `json:"last_seen"`
}

// IsActive reports whether the device's admin status allows authentication.
func (d *Device) IsActive() bool {
	return d != nil && d.Status == DeviceActive
}
