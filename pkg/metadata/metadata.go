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

// Package metadata is the Metadata Store Adapter: a narrow interface over the
// relational device catalog. Device rows are owned exclusively by this
// package; every other component treats a models.Device as a read-only view.
package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/iotflow/ingestor/pkg/models"
)

// ErrTransient wraps a failure the caller should retry with bounded backoff.
var ErrTransient = errors.New("metadata store: transient error")

// Store is the Metadata Store Adapter surface. mock_store.go
// is a hand-written fake, not mockgen output — Store's surface is small
// enough that a generated mock added a dependency without saving effort.
type Store interface {
	// FindByID returns the device with the given id, or models.ErrNotFound.
	FindByID(ctx context.Context, id int64) (*models.Device, error)

	// FindByAPIKey returns the device whose current key matches key, using a
	// constant-time comparison, or models.ErrNotFound.
	FindByAPIKey(ctx context.Context, key string) (*models.Device, error)

	// TouchLastSeen records that id was seen at ts. Implementations coalesce
	// redundant writes to at most one per device per second; failures here
	// must never fail the caller's ingestion request.
	TouchLastSeen(ctx context.Context, id int64, ts time.Time) error

	// ListActive streams every device with Status == models.DeviceActive.
	ListActive(ctx context.Context) (<-chan ActiveDevice, error)

	Close() error
}

// ActiveDevice is one element of a ListActive stream: either a device or a
// terminal error, never both.
type ActiveDevice struct {
	Device *models.Device
	Err    error
}
