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

package models

import "time"

// FieldKind is the typed-value tag attached to every normalized field so the
// Time-Series Adapter can pick the right InfluxDB line-protocol encoding.
type FieldKind int

const (
	FieldBool FieldKind = iota
	FieldInt
	FieldFloat
	FieldText
)

// FieldValue is one scalar measurement on a Point, tagged with its kind so
// the adapter never has to re-sniff a Go interface{} at write time.
type FieldValue struct {
	Kind  FieldKind
	Bool  bool
	Int   int64
	Float float64
	Text  string
}

func BoolValue(v bool) FieldValue    { return FieldValue{Kind: FieldBool, Bool: v} }
func IntValue(v int64) FieldValue    { return FieldValue{Kind: FieldInt, Int: v} }
func FloatValue(v float64) FieldValue { return FieldValue{Kind: FieldFloat, Float: v} }
func TextValue(v string) FieldValue  { return FieldValue{Kind: FieldText, Text: v} }

// Any returns the field's value boxed as interface{}, for adapters whose
// client library (e.g. the InfluxDB point builder) wants an untyped map.
func (f FieldValue) Any() interface{} {
	switch f.Kind {
	case FieldBool:
		return f.Bool
	case FieldInt:
		return f.Int
	case FieldFloat:
		return f.Float
	case FieldText:
		return f.Text
	default:
		return nil
	}
}

// Point is a single (measurement, field, timestamp) fact bound for the
// Time-Series Adapter. Tags carry the reserved device_id/device_type
// attributes plus any meta_-prefixed tags lifted from the payload.
type Point struct {
	DeviceID    int64
	Measurement string
	Field       string
	Value       FieldValue
	Tags        map[string]string
	Timestamp   time.Time
}

// SampleBatch is the canonical output of the Telemetry Normalizer: every
// Point in a batch shares one device and one timestamp — within a single
// ingestion call, all points share one timestamp.
type SampleBatch struct {
	DeviceID    int64
	Measurement string
	Timestamp   time.Time
	Points      []Point
}

// Len reports the number of fields the batch will write.
func (b *SampleBatch) Len() int {
	if b == nil {
		return 0
	}

	return len(b.Points)
}
