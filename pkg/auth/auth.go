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

// Package auth is the Authenticator (AU): a stateless authorization policy
// over a bounded device-handle cache. It holds no state
// of its own beyond the LRU — device identity and status live in the
// Metadata Store Adapter.
package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iotflow/ingestor/pkg/metadata"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/retry"
)

// DefaultCacheSize bounds the device-handle LRU.
const DefaultCacheSize = 4096

// ResultKind enumerates AuthOutcome's variants.
type ResultKind int

const (
	Authorized ResultKind = iota
	RejectedUnknownKey
	RejectedInactive
	RejectedTopicMismatch
	RejectedMalformed
)

// Result is the Authenticator's return type — never a Go error for expected
// rejections, matching the pipeline-wide Outcome-enum convention.
type Result struct {
	Kind         ResultKind
	Device       *models.Device
	DeviceStatus models.DeviceStatus
	DeviceID     int64
	Topic        string
	Reason       string
}

// SourceKind distinguishes the two transports that call Authenticate.
type SourceKind int

const (
	SourceRequest SourceKind = iota
	SourceBroker
)

// Source bundles the parts of a request relevant to authorization
// decisions; exactly one of PathDeviceID (request) or Topic (broker) is set.
type Source struct {
	Kind   SourceKind
	APIKey string

	// PathDeviceID is the device-id named in the request path, if any.
	PathDeviceID *int64

	// Topic is the parsed broker topic for SourceBroker.
	Topic *models.ParsedTopic
}

// Authenticator resolves a presented API key to a device handle and
// enforces the topic/endpoint ownership policy.
type Authenticator struct {
	store   metadata.Store
	cache   *lru.LRU[string, *models.Device]
	retryOn func(error) bool
}

// Option configures an Authenticator at construction time.
type Option func(*Authenticator)

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(size int) Option {
	return func(a *Authenticator) {
		a.cache = lru.NewLRU[string, *models.Device](size, nil, DefaultTTL)
	}
}

// DefaultTTL matches the Liveness Cache's TTL, so a cached device handle
// never outlives the liveness view it was resolved alongside.
const DefaultTTL = 24 * time.Hour

// New builds an Authenticator over store.
func New(store metadata.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:   store,
		cache:   lru.NewLRU[string, *models.Device](DefaultCacheSize, nil, DefaultTTL),
		retryOn: func(err error) bool { return errors.Is(err, metadata.ErrTransient) },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Authenticate resolves src to a Result. The returned error is non-nil only
// when the metadata store could not be reached after retrying its bounded
// backoff; the caller should map that to StoreUnavailable.
func (a *Authenticator) Authenticate(ctx context.Context, src Source) (Result, error) {
	if strings.TrimSpace(src.APIKey) == "" {
		return Result{Kind: RejectedMalformed, Reason: "missing api key"}, nil
	}

	device, err := a.resolveDevice(ctx, src.APIKey)
	if errors.Is(err, models.ErrNotFound) {
		return Result{Kind: RejectedUnknownKey}, nil
	}

	if err != nil {
		return Result{}, err
	}

	if !device.IsActive() {
		return Result{Kind: RejectedInactive, DeviceStatus: device.Status, DeviceID: device.ID}, nil
	}

	return a.authorize(device, src)
}

func (a *Authenticator) resolveDevice(ctx context.Context, key string) (*models.Device, error) {
	if device, ok := a.cache.Get(key); ok {
		return device, nil
	}

	var device *models.Device

	err := retry.Do(ctx, retry.Default, a.retryOn, func(ctx context.Context) error {
		d, findErr := a.store.FindByAPIKey(ctx, key)
		if findErr != nil {
			return findErr
		}

		device = d

		return nil
	})
	if err != nil {
		return nil, err
	}

	a.cache.Add(key, device)

	return device, nil
}

// authorize enforces ownership policy: the Authenticator
// must never trust a device-id from the payload, only the one bound to the
// presented key, checked against the topic/path.
func (a *Authenticator) authorize(device *models.Device, src Source) (Result, error) {
	switch src.Kind {
	case SourceBroker:
		return a.authorizeBroker(device, src.Topic), nil
	case SourceRequest:
		return a.authorizeRequest(device, src.PathDeviceID), nil
	default:
		return Result{Kind: RejectedMalformed, Reason: "unknown source kind"}, nil
	}
}

func (a *Authenticator) authorizeBroker(device *models.Device, topic *models.ParsedTopic) Result {
	if topic == nil {
		return Result{Kind: RejectedMalformed, Reason: "missing topic"}
	}

	switch topic.Kind {
	case models.TopicTelemetry, models.TopicStatus, models.TopicHeartbeat:
		if topic.DeviceID != device.ID {
			return Result{Kind: RejectedTopicMismatch, DeviceID: device.ID, Topic: topic.Raw}
		}

		return Result{Kind: Authorized, Device: device}
	case models.TopicCommand, models.TopicConfig:
		// Subscribe-only subtree for this device; publish authorization
		// does not apply, but ownership still must match.
		if topic.DeviceID != device.ID {
			return Result{Kind: RejectedTopicMismatch, DeviceID: device.ID, Topic: topic.Raw}
		}

		return Result{Kind: Authorized, Device: device}
	default:
		return Result{Kind: RejectedTopicMismatch, DeviceID: device.ID, Topic: topic.Raw}
	}
}

func (a *Authenticator) authorizeRequest(device *models.Device, pathDeviceID *int64) Result {
	if pathDeviceID != nil && *pathDeviceID != device.ID {
		return Result{
			Kind:     RejectedTopicMismatch,
			DeviceID: device.ID,
			Topic:    "device/" + strconv.FormatInt(*pathDeviceID, 10),
		}
	}

	return Result{Kind: Authorized, Device: device}
}
