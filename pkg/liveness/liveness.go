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

// Package liveness is the Liveness Cache (LC): the only shared-mutable
// structure inside the ingestion core. It is an in-process map
// protected by striped locks fronting an optional sharedstate.Store tier,
// which is never authoritative — a read always answers from the in-process
// map.
package liveness

import (
	"context"
	"strconv"
	"time"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/sharedstate"
)

const (
	// DefaultTTL is the retention duration of a cache entry.
	DefaultTTL = 24 * time.Hour

	// DefaultFreshnessWindow is the duration after last_seen a device is
	// still considered online.
	DefaultFreshnessWindow = 5 * time.Minute

	// stripeCount is the minimum lock-stripe count requires.
	stripeCount = 64
)

// Cache is the Liveness Cache.
type Cache struct {
	stripes         [stripeCount]stripe
	shared          sharedstate.Store // nil disables the shared tier
	ttl             time.Duration
	freshnessWindow time.Duration
	log             logger.Logger
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithSharedStore wires an optional shared tier for write-through and
// get_many round trips.
func WithSharedStore(store sharedstate.Store) Option {
	return func(c *Cache) { c.shared = store }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithFreshnessWindow overrides DefaultFreshnessWindow.
func WithFreshnessWindow(window time.Duration) Option {
	return func(c *Cache) { c.freshnessWindow = window }
}

// New builds an empty Cache.
func New(log logger.Logger, opts ...Option) *Cache {
	c := &Cache{
		ttl:             DefaultTTL,
		freshnessWindow: DefaultFreshnessWindow,
		log:             log,
	}

	for i := range c.stripes {
		c.stripes[i].entries = make(map[int64]models.LivenessRecord)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) stripeFor(deviceID int64) *stripe {
	idx := uint64(deviceID) % stripeCount

	return &c.stripes[idx]
}

// Touch sets the device online with last_seen=ts, write-through to the
// shared tier best-effort.
func (c *Cache) Touch(ctx context.Context, deviceID int64, ts time.Time) {
	s := c.stripeFor(deviceID)

	candidate := models.LivenessRecord{DeviceID: deviceID, Status: models.LivenessOnline, LastSeen: ts}

	s.mu.Lock()
	current, existed := s.entries[deviceID]

	if !existed || current.Newer(candidate) {
		candidate.Version = current.Version + 1
		s.entries[deviceID] = candidate
		current = candidate
	}
	s.mu.Unlock()

	c.writeThrough(ctx, current)
}

// SetStatus explicitly overrides a device's cached status (offline,
// maintenance), bumping the version so it wins over stale concurrent writes
// with an equal timestamp.
func (c *Cache) SetStatus(ctx context.Context, deviceID int64, status models.LivenessStatus) {
	s := c.stripeFor(deviceID)
	now := time.Now().UTC()

	s.mu.Lock()
	current := s.entries[deviceID]
	current.DeviceID = deviceID
	current.Status = status
	current.LastSeen = now
	current.Version++
	s.entries[deviceID] = current
	s.mu.Unlock()

	c.writeThrough(ctx, current)
}

// Get returns the cached record for deviceID, or false if unknown locally.
// It never reaches for the shared tier — only GetMany does that.
func (c *Cache) Get(deviceID int64) (models.LivenessRecord, bool) {
	s := c.stripeFor(deviceID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entries[deviceID]

	return rec, ok
}

// GetMany resolves every id from the in-process map, falling back to the
// shared tier for ids missing locally: two Gets per missing id, all under a
// single sharedstate.Deadline. Misses are not batched into one round trip.
func (c *Cache) GetMany(ctx context.Context, ids []int64) map[int64]models.LivenessRecord {
	out := make(map[int64]models.LivenessRecord, len(ids))

	var misses []int64

	for _, id := range ids {
		if rec, ok := c.Get(id); ok {
			out[id] = rec
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 || c.shared == nil {
		return out
	}

	ctx, cancel := sharedstate.WithDeadline(ctx)
	defer cancel()

	for _, id := range misses {
		rec, ok := c.fetchShared(ctx, id)
		if !ok {
			continue
		}

		out[id] = rec

		s := c.stripeFor(id)
		s.mu.Lock()
		s.entries[id] = rec
		s.mu.Unlock()
	}

	return out
}

// FreshnessWindow returns the duration after last_seen a device is still
// considered online, as configured via WithFreshnessWindow.
func (c *Cache) FreshnessWindow() time.Duration {
	return c.freshnessWindow
}

// Evaluate derives the online/offline view for deviceID given its current
// admin status.
func (c *Cache) Evaluate(deviceID int64, now time.Time, deviceActive bool) models.LivenessStatus {
	rec, ok := c.Get(deviceID)
	if !ok {
		return models.LivenessUnknown
	}

	return rec.Evaluate(now, c.freshnessWindow, deviceActive)
}

// Clear removes one device's cached state, locally and on the shared tier.
func (c *Cache) Clear(ctx context.Context, deviceID int64) {
	s := c.stripeFor(deviceID)

	s.mu.Lock()
	delete(s.entries, deviceID)
	s.mu.Unlock()

	if c.shared == nil {
		return
	}

	ctx, cancel := sharedstate.WithDeadline(ctx)
	defer cancel()

	if err := c.shared.Delete(ctx, statusKey(deviceID)); err != nil && c.log != nil {
		c.log.Warn().Err(err).Int64("device_id", deviceID).Msg("liveness: shared clear failed")
	}

	if err := c.shared.Delete(ctx, lastSeenKey(deviceID)); err != nil && c.log != nil {
		c.log.Warn().Err(err).Int64("device_id", deviceID).Msg("liveness: shared clear failed")
	}
}

// ClearAll wipes every stripe's in-process state. The shared tier is left
// alone — it may be serving other instances.
func (c *Cache) ClearAll() {
	for i := range c.stripes {
		c.stripes[i].mu.Lock()
		c.stripes[i].entries = make(map[int64]models.LivenessRecord)
		c.stripes[i].mu.Unlock()
	}
}

func (c *Cache) writeThrough(ctx context.Context, rec models.LivenessRecord) {
	if c.shared == nil {
		return
	}

	ctx, cancel := sharedstate.WithDeadline(ctx)
	defer cancel()

	if err := c.shared.Set(ctx, statusKey(rec.DeviceID), string(rec.Status), c.ttl); err != nil {
		if c.log != nil {
			c.log.Warn().Err(err).Int64("device_id", rec.DeviceID).Msg("liveness: write-through status failed")
		}

		return
	}

	if err := c.shared.Set(ctx, lastSeenKey(rec.DeviceID), rec.LastSeen.UTC().Format(time.RFC3339), c.ttl); err != nil && c.log != nil {
		c.log.Warn().Err(err).Int64("device_id", rec.DeviceID).Msg("liveness: write-through last_seen failed")
	}
}

func (c *Cache) fetchShared(ctx context.Context, deviceID int64) (models.LivenessRecord, bool) {
	status, found, err := c.shared.Get(ctx, statusKey(deviceID))
	if err != nil || !found {
		return models.LivenessRecord{}, false
	}

	lastSeenRaw, found, err := c.shared.Get(ctx, lastSeenKey(deviceID))
	if err != nil || !found {
		return models.LivenessRecord{}, false
	}

	lastSeen, err := time.Parse(time.RFC3339, lastSeenRaw)
	if err != nil {
		return models.LivenessRecord{}, false
	}

	return models.LivenessRecord{
		DeviceID: deviceID,
		Status:   models.LivenessStatus(status),
		LastSeen: lastSeen,
	}, true
}

func statusKey(deviceID int64) string {
	return "device:status:" + strconv.FormatInt(deviceID, 10)
}

func lastSeenKey(deviceID int64) string {
	return "device:lastseen:" + strconv.FormatInt(deviceID, 10)
}
