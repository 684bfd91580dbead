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

// Package config loads and validates the ingestion core's configuration from
// a JSON file, environment variables, or an inline CONFIG_JSON blob.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/models"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errInvalidConfigPtr    = errors.New("config must be a non-nil pointer")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"
)

// ConfigLoader fills dst from one configuration source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configuration structs that can check their own
// invariants after loading (required fields, value ranges, cross-field rules).
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a new Config instance with a default file loader and logger.
// If log is nil, a minimal stderr logger is used so config loading never panics
// before the real logger is constructed.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = createBasicLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{logger: log},
		logger:        log,
	}
}

// basicLogger implements logger.Logger for config loading without depending on
// the full logger package's initialization path.
type basicLogger struct {
	logger zerolog.Logger
}

func createBasicLogger() logger.Logger {
	zlog := zerolog.New(os.Stderr).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	return &basicLogger{logger: zlog}
}

func (b *basicLogger) Trace() *zerolog.Event { return b.logger.Trace() }
func (b *basicLogger) Debug() *zerolog.Event { return b.logger.Debug() }
func (b *basicLogger) Info() *zerolog.Event  { return b.logger.Info() }
func (b *basicLogger) Warn() *zerolog.Event  { return b.logger.Warn() }
func (b *basicLogger) Error() *zerolog.Event { return b.logger.Error() }
func (b *basicLogger) Fatal() *zerolog.Event { return b.logger.Fatal() }
func (b *basicLogger) Panic() *zerolog.Event { return b.logger.Panic() }
func (b *basicLogger) With() zerolog.Context { return b.logger.With() }

func (b *basicLogger) WithComponent(component string) zerolog.Logger {
	return b.logger.With().Str("component", component).Logger()
}

func (b *basicLogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := b.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}

	return ctx.Logger()
}

func (b *basicLogger) SetLevel(level zerolog.Level) {
	b.logger = b.logger.Level(level)
}

func (b *basicLogger) SetDebug(debug bool) {
	if debug {
		b.SetLevel(zerolog.DebugLevel)
	} else {
		b.SetLevel(zerolog.InfoLevel)
	}
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration from the source named by CONFIG_SOURCE,
// normalizes any embedded SecurityConfig TLS paths, and validates the result.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := c.loadFromSource(ctx, path, cfg); err != nil {
		return err
	}

	if err := c.normalizeSecurityConfig(cfg); err != nil {
		return fmt.Errorf("failed to normalize SecurityConfig: %w", err)
	}

	return ValidateConfig(cfg)
}

// loadFromSource picks a loader based on CONFIG_SOURCE (default: file).
func (c *Config) loadFromSource(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = "INGEST_"
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		loader = c.defaultLoader
	default:
		return fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	return loader.Load(ctx, path, cfg)
}

// normalizeSecurityConfig resolves relative TLS file paths against the working
// directory for any models.SecurityConfig or *models.SecurityConfig field
// found on cfg.
func (c *Config) normalizeSecurityConfig(cfg interface{}) error {
	v := reflect.ValueOf(cfg)

	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	v = v.Elem()

	if v.Kind() != reflect.Struct {
		return nil
	}

	return c.normalizeStructFields(v)
}

func (c *Config) normalizeStructFields(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		fieldType := t.Field(i)

		if err := c.normalizeField(v.Field(i), &fieldType); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) normalizeField(field reflect.Value, fieldType *reflect.StructField) error {
	switch fieldType.Type {
	case reflect.TypeOf((*models.SecurityConfig)(nil)):
		if !field.IsValid() || field.IsNil() {
			return nil
		}

		sec, ok := field.Interface().(*models.SecurityConfig)
		if !ok {
			return nil
		}

		c.normalizeTLSPaths(&sec.TLS)
	case reflect.TypeOf(models.SecurityConfig{}):
		if !field.CanAddr() {
			return nil
		}

		sec, ok := field.Addr().Interface().(*models.SecurityConfig)
		if !ok {
			return nil
		}

		c.normalizeTLSPaths(&sec.TLS)
	}

	return nil
}

// normalizeTLSPaths resolves cert/key/CA paths relative to the working
// directory; it leaves already-absolute paths untouched.
func (c *Config) normalizeTLSPaths(tls *models.TLSConfig) {
	if tls.CertFile != "" && !filepath.IsAbs(tls.CertFile) {
		if abs, err := filepath.Abs(tls.CertFile); err == nil {
			tls.CertFile = abs
		}
	}

	if tls.KeyFile != "" && !filepath.IsAbs(tls.KeyFile) {
		if abs, err := filepath.Abs(tls.KeyFile); err == nil {
			tls.KeyFile = abs
		}
	}

	if tls.CAFile != "" && !filepath.IsAbs(tls.CAFile) {
		if abs, err := filepath.Abs(tls.CAFile); err == nil {
			tls.CAFile = abs
		}
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("cert_file", tls.CertFile).
			Str("key_file", tls.KeyFile).
			Str("ca_file", tls.CAFile).
			Msg("normalized TLS paths")
	}
}
