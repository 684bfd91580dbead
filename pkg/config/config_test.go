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

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
)

type testBrokerConfig struct {
	BrokerURL string                 `json:"broker_url"`
	APIKey    string                 `json:"api_key" sensitive:"true"`
	Security  models.SecurityConfig  `json:"security"`
	Ratio     float64                `json:"ratio,omitempty"`
}

func (c *testBrokerConfig) Validate() error {
	if c.BrokerURL == "" {
		return errTestMissingBrokerURL
	}

	return nil
}

var errTestMissingBrokerURL = errTestErr("broker_url is required")

type errTestErr string

func (e errTestErr) Error() string { return string(e) }

func TestLoadAndValidateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	payload := testBrokerConfig{
		BrokerURL: "tcp://localhost:1883",
		APIKey:    "unused",
		Security: models.SecurityConfig{
			Mode: models.SecurityModeTLS,
			TLS: models.TLSConfig{
				CertFile: "certs/client.pem",
			},
		},
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := NewConfig(nil)

	var result testBrokerConfig
	require.NoError(t, cfg.LoadAndValidate(context.Background(), path, &result))

	assert.Equal(t, "tcp://localhost:1883", result.BrokerURL)
	assert.True(t, filepath.IsAbs(result.Security.TLS.CertFile))
}

func TestLoadAndValidateMissingFileFails(t *testing.T) {
	cfg := NewConfig(nil)

	var result testBrokerConfig
	err := cfg.LoadAndValidate(context.Background(), "/nonexistent/path/config.json", &result)
	require.Error(t, err)
}

func TestLoadAndValidateRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"broker_url":""}`), 0o600))

	cfg := NewConfig(nil)

	var result testBrokerConfig
	err := cfg.LoadAndValidate(context.Background(), path, &result)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTestMissingBrokerURL)
}

func TestLoadAndValidateFromEnvSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("INGEST_BROKER_URL", "tcp://broker.local:1883")

	cfg := NewConfig(nil)

	var result testBrokerConfig
	require.NoError(t, cfg.LoadAndValidate(context.Background(), "", &result))
	assert.Equal(t, "tcp://broker.local:1883", result.BrokerURL)
}

func TestLoadAndValidateFromEnvJSONBlob(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("INGEST_CONFIG_JSON", `{"broker_url":"tcp://blob.local:1883"}`)

	cfg := NewConfig(nil)

	var result testBrokerConfig
	require.NoError(t, cfg.LoadAndValidate(context.Background(), "", &result))
	assert.Equal(t, "tcp://blob.local:1883", result.BrokerURL)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "carrier-pigeon")

	cfg := NewConfig(nil)

	var result testBrokerConfig
	err := cfg.LoadAndValidate(context.Background(), "", &result)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidConfigSource)
}

func TestNormalizeSecurityConfigRejectsNonPointer(t *testing.T) {
	cfg := NewConfig(nil)
	err := cfg.normalizeSecurityConfig(testBrokerConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidConfigPtr)
}
