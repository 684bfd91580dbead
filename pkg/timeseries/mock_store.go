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

package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iotflow/ingestor/pkg/models"
)

// MockStore is a hand-written in-memory Store fake for unit tests.
type MockStore struct {
	mu     sync.Mutex
	points []models.Point
	closed bool

	EnsureSeriesErr error
	AppendErr       error
	QueryRangeErr   error
	QueryLatestErr  error
	CountErr        error
	DeleteRangeErr  error
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) EnsureSeries(_ context.Context, _ int64, _, _ string, _ models.FieldKind) error {
	return m.EnsureSeriesErr
}

func (m *MockStore) Append(_ context.Context, points []models.Point) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.points = append(m.points, points...)

	return nil
}

func (m *MockStore) QueryRange(_ context.Context, deviceID int64, start, end time.Time, limit int) ([]models.Point, error) {
	if m.QueryRangeErr != nil {
		return nil, m.QueryRangeErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.Point

	for _, p := range m.points {
		if p.DeviceID != deviceID {
			continue
		}

		if p.Timestamp.Before(start) || !p.Timestamp.Before(end) {
			continue
		}

		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (m *MockStore) QueryLatest(_ context.Context, deviceID int64) ([]models.Point, error) {
	if m.QueryLatestErr != nil {
		return nil, m.QueryLatestErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]models.Point)

	for _, p := range m.points {
		if p.DeviceID != deviceID {
			continue
		}

		if cur, ok := latest[p.Field]; !ok || p.Timestamp.After(cur.Timestamp) {
			latest[p.Field] = p
		}
	}

	out := make([]models.Point, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}

	return out, nil
}

func (m *MockStore) Count(_ context.Context, deviceID int64, start time.Time) (int64, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64

	for _, p := range m.points {
		if p.DeviceID == deviceID && !p.Timestamp.Before(start) {
			count++
		}
	}

	return count, nil
}

func (m *MockStore) DeleteRange(_ context.Context, deviceID int64, start, end time.Time) error {
	if m.DeleteRangeErr != nil {
		return m.DeleteRangeErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.points[:0]

	for _, p := range m.points {
		if p.DeviceID == deviceID && !p.Timestamp.Before(start) && p.Timestamp.Before(end) {
			continue
		}

		kept = append(kept, p)
	}

	m.points = kept

	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}
