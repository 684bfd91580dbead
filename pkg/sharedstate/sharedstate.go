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

// Package sharedstate is the optional second tier behind the Liveness Cache
// and the Rate Limiter: a process-external key-value store that is never the
// source of truth but lets multiple ingestion core instances converge on the
// same view. Two implementations are provided, NATS JetStream KV and Redis;
// callers depend only on Store.
package sharedstate

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means the shared tier could not be reached within its
// deadline. Callers must degrade to a local-only fallback rather than fail
// the caller's request.
var ErrUnavailable = errors.New("sharedstate: unavailable")

// Deadline is the round-trip budget for a shared-cache call; exceeding it
// means the caller falls back to local-only state.
const Deadline = 100 * time.Millisecond

// Store is a minimal key-value tier: string values, per-key TTL, and an
// atomic increment used by the Rate Limiter's compare-and-set counters.
type Store interface {
	// Get returns the current value for key, or found=false if absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value for key, resetting its TTL if ttl > 0.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer counter at key by one,
	// creating it at 1 with the given TTL if absent, and returns the new
	// value. Used by the Rate Limiter for check_and_increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// WithDeadline bounds ctx by Deadline, matching every Store implementation's
// call contract.
func WithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, Deadline)
}
