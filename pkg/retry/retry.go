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

// Package retry implements the capped, jittered exponential backoff policy
// used against the Metadata and Time-Series Adapters: 3 attempts, jittered
// 200ms to 2s.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures a bounded retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is the standard retry policy: 3 attempts, jittered 200ms to 2s.
var Default = Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}

// delay returns the backoff duration before attempt (1-indexed), exponential
// in attempt with up to 50% jitter, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := p.BaseDelay * time.Duration(uint64(1)<<uint(attempt-1))
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1)) //nolint:gosec // timing jitter, not security-sensitive

	total := backoff + jitter
	if total > p.MaxDelay {
		total = p.MaxDelay
	}

	return total
}

// IsTransient classifies whether err should be retried. Most callers use
// errors.Is against their own sentinel; this default always retries, and
// callers that need selective classification pass their own predicate to Do.
func IsTransient(error) bool { return true }

// Do runs fn up to p.MaxAttempts times, sleeping p.delay between attempts,
// stopping early when transient(err) is false or ctx is canceled. It returns
// the last error seen.
func Do(ctx context.Context, p Policy, transient func(error) bool, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if transient != nil && !transient(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return lastErr
}
