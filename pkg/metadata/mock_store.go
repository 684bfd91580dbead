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
	"context"
	"sync"
	"time"

	"github.com/iotflow/ingestor/pkg/models"
)

// MockStore is a hand-written fake Store for tests that don't need a real
// Postgres instance. It is safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	byID    map[int64]*models.Device
	byKey   map[string]*models.Device
	Touches []TouchCall
	closed  bool

	// FindByIDErr, FindByAPIKeyErr, TouchErr, ListActiveErr force the next
	// call of the matching method to fail, for exercising retry paths.
	FindByIDErr     error
	FindByAPIKeyErr error
	TouchErr        error
	ListActiveErr   error
}

// TouchCall records one accepted TouchLastSeen invocation.
type TouchCall struct {
	ID int64
	TS time.Time
}

// NewMockStore returns an empty MockStore seeded with devices.
func NewMockStore(devices ...*models.Device) *MockStore {
	m := &MockStore{
		byID:  make(map[int64]*models.Device),
		byKey: make(map[string]*models.Device),
	}

	for _, d := range devices {
		m.byID[d.ID] = d
		if d.APIKey != "" {
			m.byKey[d.APIKey] = d
		}
	}

	return m
}

func (m *MockStore) FindByID(_ context.Context, id int64) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindByIDErr != nil {
		return nil, m.FindByIDErr
	}

	d, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	return d, nil
}

func (m *MockStore) FindByAPIKey(_ context.Context, key string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindByAPIKeyErr != nil {
		return nil, m.FindByAPIKeyErr
	}

	d, ok := m.byKey[key]
	if !ok {
		return nil, models.ErrNotFound
	}

	return d, nil
}

func (m *MockStore) TouchLastSeen(_ context.Context, id int64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TouchErr != nil {
		return m.TouchErr
	}

	if d, ok := m.byID[id]; ok {
		d.LastSeen = ts
	}

	m.Touches = append(m.Touches, TouchCall{ID: id, TS: ts})

	return nil
}

func (m *MockStore) ListActive(_ context.Context) (<-chan ActiveDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListActiveErr != nil {
		return nil, m.ListActiveErr
	}

	out := make(chan ActiveDevice, len(m.byID))

	for _, d := range m.byID {
		if d.Status == models.DeviceActive {
			out <- ActiveDevice{Device: d}
		}
	}

	close(out)

	return out, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *MockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}
