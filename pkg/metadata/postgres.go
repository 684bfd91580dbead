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
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/models"
)

// Config describes how to reach the CNPG-managed Postgres cluster backing
// the device catalog.
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Database       string `json:"database"`
	Username       string `json:"username"`
	Password       string `json:"password" sensitive:"true"`
	SSLMode        string `json:"ssl_mode,omitempty"`
	MaxConnections int32  `json:"max_connections,omitempty"`
	MinConnections int32  `json:"min_connections,omitempty"`
}

// PostgresStore implements Store against a pgxpool.Pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	log   logger.Logger
	touch *touchCoalescer
}

// NewPostgresPool dials cfg and returns a ready connection pool, built from
// a DSN assembled field-by-field and parsed through pgxpool.ParseConfig.
func NewPostgresPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	connURL := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		if cfg.Password != "" {
			connURL.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			connURL.User = url.User(cfg.Username)
		}
	}

	query := connURL.Query()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	query.Set("sslmode", sslMode)
	connURL.RawQuery = query.Encode()

	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("metadata: parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}

	if cfg.MinConnections > 0 {
		poolConfig.MinConns = cfg.MinConnections
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("metadata: connect: %w", err)
	}

	return pool, nil
}

var errNilConfig = errors.New("metadata: nil config")

// NewPostgresStore wraps an already-dialed pool.
func NewPostgresStore(pool *pgxpool.Pool, log logger.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: log, touch: newTouchCoalescer()}
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Device, error) {
	row := s.pool.QueryRow(ctx, selectDeviceByID, id)

	device, err := scanDevice(row)
	if err != nil {
		return nil, s.classify(err)
	}

	return device, nil
}

// FindByAPIKey looks up the device whose key hash matches key's SHA-256
// digest, then re-verifies the full key with a constant-time comparison
// before returning — the hash lookup narrows the index scan, the
// subtle.ConstantTimeCompare call is what makes the actual credential check
// constant-time regardless of index behavior.
func (s *PostgresStore) FindByAPIKey(ctx context.Context, key string) (*models.Device, error) {
	digest := sha256.Sum256([]byte(key))

	row := s.pool.QueryRow(ctx, selectDeviceByKeyHash, digest[:])

	device, storedKey, err := scanDeviceWithKey(row)
	if err != nil {
		return nil, s.classify(err)
	}

	if subtle.ConstantTimeCompare([]byte(storedKey), []byte(key)) != 1 {
		return nil, models.ErrNotFound
	}

	return device, nil
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, id int64, ts time.Time) error {
	if !s.touch.shouldWrite(id, ts) {
		return nil
	}

	_, err := s.pool.Exec(ctx, updateLastSeen, id, ts.UTC())
	if err != nil {
		return s.classify(err)
	}

	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) (<-chan ActiveDevice, error) {
	rows, err := s.pool.Query(ctx, selectActiveDevices)
	if err != nil {
		return nil, s.classify(err)
	}

	out := make(chan ActiveDevice, 16)

	go func() {
		defer close(out)
		defer rows.Close()

		for rows.Next() {
			device, scanErr := scanDevice(rows)
			if scanErr != nil {
				out <- ActiveDevice{Err: s.classify(scanErr)}

				return
			}

			out <- ActiveDevice{Device: device}
		}

		if err := rows.Err(); err != nil {
			out <- ActiveDevice{Err: s.classify(err)}
		}
	}()

	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()

	return nil
}

// classify maps a pgx/driver failure onto the adapter's error taxonomy: a
// missing row is terminal, everything else is retried by the caller.
func (s *PostgresStore) classify(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if s.log != nil {
		s.log.Warn().Err(err).Msg("metadata store operation failed")
	}

	return fmt.Errorf("%w: %w", ErrTransient, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device

	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Status, &d.Firmware, &d.Hardware,
		&d.CreatedAt, &d.UpdatedAt, &d.LastSeen)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

func scanDeviceWithKey(row rowScanner) (*models.Device, string, error) {
	var (
		d      models.Device
		apiKey string
	)

	err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Status, &d.Firmware, &d.Hardware,
		&d.CreatedAt, &d.UpdatedAt, &d.LastSeen, &apiKey)
	if err != nil {
		return nil, "", err
	}

	return &d, apiKey, nil
}

const (
	selectDeviceByID = `
SELECT id, name, type, status, firmware, hardware, created_at, updated_at, last_seen
FROM devices WHERE id = $1`

	selectDeviceByKeyHash = `
SELECT id, name, type, status, firmware, hardware, created_at, updated_at, last_seen, api_key
FROM devices WHERE api_key_hash = $1`

	updateLastSeen = `UPDATE devices SET last_seen = $2, updated_at = $2 WHERE id = $1`

	selectActiveDevices = `
SELECT id, name, type, status, firmware, hardware, created_at, updated_at, last_seen
FROM devices WHERE status = 'active'`
)
