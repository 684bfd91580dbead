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

// Package ratelimit is the Rate Limiter (RL): a sliding fixed window keyed
// by device-id or source-ip.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/obs"
	"github.com/iotflow/ingestor/pkg/sharedstate"
)

// Result is the outcome of a single check_and_increment call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter implements check_and_increment, backed by a shared
// store when available and falling back to local striped counters when it
// is not.
type Limiter struct {
	shared sharedstate.Store
	log    logger.Logger

	mu    sync.Mutex
	local map[string]*window

	degradedCount atomic.Int64
}

type window struct {
	count   int
	resetAt time.Time
}

// New constructs a Limiter. shared may be nil to force local-only mode.
func New(shared sharedstate.Store, log logger.Logger) *Limiter {
	return &Limiter{
		shared: shared,
		log:    log,
		local:  make(map[string]*window),
	}
}

// Check runs check_and_increment(key, max, windowLen). key is the caller's
// device-id or source-ip bucket string; callers are expected to namespace it
// (e.g. "device:7", "ip:203.0.113.4") before calling.
func (l *Limiter) Check(ctx context.Context, key string, maxRequests int, windowLen time.Duration) (Result, error) {
	if l.shared != nil {
		result, err := l.checkShared(ctx, key, maxRequests, windowLen)
		if err == nil {
			return result, nil
		}

		l.degradedCount.Add(1)
		obs.RecordDegradedRateLimit(ctx)

		if l.log != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("ratelimit: shared store unavailable, failing open")
		}

		return Result{Allowed: true, Remaining: maxRequests}, nil
	}

	return l.checkLocal(key, maxRequests, windowLen), nil
}

func (l *Limiter) checkShared(ctx context.Context, key string, maxRequests int, windowLen time.Duration) (Result, error) {
	deadlineCtx, cancel := sharedstate.WithDeadline(ctx)
	defer cancel()

	count, err := l.shared.Incr(deadlineCtx, bucketKey(key, windowLen), windowLen)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: shared incr: %w", err)
	}

	resetAt := windowResetAt(windowLen)
	remaining := maxRequests - int(count)

	if remaining < 0 {
		remaining = 0
	}

	return Result{Allowed: int(count) <= maxRequests, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Limiter) checkLocal(key string, maxRequests int, windowLen time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	w, ok := l.local[key]
	if !ok || now.After(w.resetAt) {
		w = &window{count: 0, resetAt: windowResetAt(windowLen)}
		l.local[key] = w
	}

	w.count++

	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{Allowed: w.count <= maxRequests, Remaining: remaining, ResetAt: w.resetAt}
}

// DegradedCount reports how many checks fell back to fail-open mode since
// startup, for the observability counter requires.
func (l *Limiter) DegradedCount() int64 {
	return l.degradedCount.Load()
}

// bucketKey derives the fixed-window bucket identifier: the window's start
// boundary, so every request within the same window shares one counter key.
func bucketKey(key string, windowLen time.Duration) string {
	bucket := time.Now().UTC().Truncate(windowLen).Unix()

	return fmt.Sprintf("rate_limit:%s:%d", key, bucket)
}

func windowResetAt(windowLen time.Duration) time.Time {
	now := time.Now().UTC()

	return now.Truncate(windowLen).Add(windowLen)
}
