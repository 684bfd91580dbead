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
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/models"
)

// InfluxConfig describes how to reach the InfluxDB bucket backing the TSA.
type InfluxConfig struct {
	URL    string
	Token  string `json:"token" sensitive:"true"`
	Org    string
	Bucket string
	Root   string // series path root, default "iotflow"
}

// DefaultRoot is used when InfluxConfig.Root is empty.
const DefaultRoot = "iotflow"

// InfluxStore implements Store against InfluxDB 2.x.
type InfluxStore struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	org    string
	bucket string
	root   string
	log    logger.Logger
}

// NewInfluxStore dials cfg and returns a ready Store.
func NewInfluxStore(cfg *InfluxConfig, log logger.Logger) *InfluxStore {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	root := cfg.Root
	if root == "" {
		root = DefaultRoot
	}

	return &InfluxStore{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		org:    cfg.Org,
		bucket: cfg.Bucket,
		root:   root,
		log:    log,
	}
}

// EnsureSeries is a no-op: InfluxDB creates series on first write.
func (s *InfluxStore) EnsureSeries(_ context.Context, _ int64, _, _ string, _ models.FieldKind) error {
	return nil
}

// Append writes every point as one InfluxDB line-protocol batch, so the
// batch either lands entirely or not at all from the caller's perspective.
func (s *InfluxStore) Append(ctx context.Context, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}

	writePoints := make([]*write.Point, 0, len(points))

	for _, p := range points {
		measurement := SeriesPath(s.root, p.DeviceID, p.Field)

		tags := map[string]string{
			"device_id": strconv.FormatInt(p.DeviceID, 10),
		}

		for k, v := range p.Tags {
			tags[k] = v
		}

		fields := map[string]interface{}{"value": p.Value.Any()}

		writePoints = append(writePoints, influxdb2.NewPoint(measurement, tags, fields, p.Timestamp))
	}

	if err := s.write.WritePoint(ctx, writePoints...); err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return nil
}

func (s *InfluxStore) QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]models.Point, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r.device_id == %q)
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, s.bucket, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(deviceID, 10), limit)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	defer result.Close()

	points, err := collectPoints(result, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return points, nil
}

func (s *InfluxStore) QueryLatest(ctx context.Context, deviceID int64) ([]models.Point, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -30d)
  |> filter(fn: (r) => r.device_id == %q)
  |> last()
`, s.bucket, strconv.FormatInt(deviceID, 10))

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	defer result.Close()

	return collectPoints(result, deviceID)
}

func (s *InfluxStore) Count(ctx context.Context, deviceID int64, start time.Time) (int64, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r.device_id == %q)
  |> count()
`, s.bucket, start.UTC().Format(time.RFC3339Nano), strconv.FormatInt(deviceID, 10))

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	defer result.Close()

	var total int64

	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			total += v
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransient, result.Err())
	}

	return total, nil
}

func (s *InfluxStore) DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) error {
	predicate := fmt.Sprintf(`device_id="%d"`, deviceID)

	deleteAPI := s.client.DeleteAPI()
	if err := deleteAPI.DeleteWithName(ctx, s.org, s.bucket, start, end, predicate); err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return nil
}

func (s *InfluxStore) Close() error {
	s.client.Close()

	return nil
}

func collectPoints(result *api.QueryTableResult, deviceID int64) ([]models.Point, error) {
	var points []models.Point

	for result.Next() {
		record := result.Record()

		field, _ := record.ValueByKey("_field").(string)

		measurement := record.Measurement()
		fieldName := fieldNameFromMeasurement(measurement, field)

		points = append(points, models.Point{
			DeviceID:    deviceID,
			Measurement: measurement,
			Field:       fieldName,
			Value:       fieldValueFromAny(record.Value()),
			Timestamp:   record.Time(),
		})
	}

	if result.Err() != nil {
		return nil, result.Err()
	}

	return points, nil
}

// fieldNameFromMeasurement recovers the trailing field segment from a
// SeriesPath-shaped measurement name, falling back to the raw Influx field
// name when the measurement doesn't match the expected shape.
func fieldNameFromMeasurement(measurement, fluxField string) string {
	idx := strings.LastIndex(measurement, ".")
	if idx < 0 || idx == len(measurement)-1 {
		return fluxField
	}

	return measurement[idx+1:]
}

func fieldValueFromAny(v interface{}) models.FieldValue {
	switch val := v.(type) {
	case bool:
		return models.BoolValue(val)
	case int64:
		return models.IntValue(val)
	case float64:
		return models.FloatValue(val)
	case string:
		return models.TextValue(val)
	default:
		return models.TextValue(fmt.Sprintf("%v", val))
	}
}
