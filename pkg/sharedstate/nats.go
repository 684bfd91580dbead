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

package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig describes the JetStream KV bucket backing a NATSStore.
type NATSConfig struct {
	URL       string
	Bucket    string
	History   uint8
	TTL       time.Duration
	ConnectFn func(url string) (*nats.Conn, error) // overridable for tests
}

// NATSStore is a Store backed by a single JetStream KV bucket — the
// liveness/rate-limit keyspace does not need per-tenant JetStream domains.
// Set and Incr ignore their ttl argument; keys expire only by the
// bucket-wide NATSConfig.TTL.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	bucket string
}

var errNilNATSConfig = errors.New("sharedstate: nil nats config")

// NewNATSStore dials cfg.URL and ensures the configured KV bucket exists.
func NewNATSStore(ctx context.Context, cfg *NATSConfig) (*NATSStore, error) {
	if cfg == nil {
		return nil, errNilNATSConfig
	}

	connect := cfg.ConnectFn
	if connect == nil {
		connect = func(url string) (*nats.Conn, error) {
			return nats.Connect(url, nats.MaxReconnects(-1), nats.RetryOnFailedConnect(true))
		}
	}

	nc, err := connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sharedstate: connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("sharedstate: jetstream init: %w", err)
	}

	history := cfg.History
	if history == 0 {
		history = 1
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: history,
			TTL:     cfg.TTL,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("sharedstate: create kv bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &NATSStore{nc: nc, kv: kv, bucket: cfg.Bucket}, nil
}

func (s *NATSStore) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return string(entry.Value()), true, nil
}

func (s *NATSStore) Set(ctx context.Context, key, value string, _ time.Duration) error {
	if _, err := s.kv.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

// Incr implements the counter via JetStream's revisioned Update, retrying on
// a revision conflict — the closest JetStream KV equivalent to Redis's
// native atomic INCR.
func (s *NATSStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	const maxAttempts = 5

	for attempt := 0; attempt < maxAttempts; attempt++ {
		entry, err := s.kv.Get(ctx, key)

		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			if _, createErr := s.kv.Create(ctx, key, []byte("1")); createErr != nil {
				if errors.Is(createErr, jetstream.ErrKeyExists) {
					continue
				}

				return 0, fmt.Errorf("%w: %w", ErrUnavailable, createErr)
			}

			return 1, nil
		case err != nil:
			return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		current, parseErr := strconv.ParseInt(string(entry.Value()), 10, 64)
		if parseErr != nil {
			current = 0
		}

		next := current + 1

		_, updateErr := s.kv.Update(ctx, key, []byte(strconv.FormatInt(next, 10)), entry.Revision())
		if errors.Is(updateErr, jetstream.ErrKeyExists) {
			continue // lost the CAS race, retry
		}

		if updateErr != nil {
			return 0, fmt.Errorf("%w: %w", ErrUnavailable, updateErr)
		}

		return next, nil
	}

	return 0, fmt.Errorf("%w: exhausted cas retries for key %q", ErrUnavailable, key)
}

func (s *NATSStore) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

func (s *NATSStore) Close() error {
	s.nc.Close()

	return nil
}

var _ Store = (*NATSStore)(nil)
