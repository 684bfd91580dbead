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

package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotflow/ingestor/pkg/models"
)

type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestDispatcherHandleMessageEnqueuesByKind(t *testing.T) {
	d := New(Config{}, nil)

	d.handleMessage(nil, &fakeMessage{topic: "iotflow/devices/7/telemetry", payload: []byte(`{}`)})

	select {
	case msg := <-d.Queue(models.TopicTelemetry):
		assert.Equal(t, int64(7), msg.Topic.DeviceID)
	default:
		t.Fatal("expected a queued telemetry message")
	}
}

func TestDispatcherHandleMessageDropsMalformedTopic(t *testing.T) {
	d := New(Config{}, nil)

	d.handleMessage(nil, &fakeMessage{topic: "not-iotflow/x", payload: []byte(`{}`)})

	assert.EqualValues(t, 1, d.MalformedCount())
}

func TestDispatcherHeadDropsOldestOnFullQueue(t *testing.T) {
	d := New(Config{}, nil)
	queue := d.queues[models.TopicTelemetry]

	for i := 0; i < QueueDepth; i++ {
		queue <- Message{Topic: models.ParsedTopic{DeviceID: int64(i)}}
	}

	d.handleMessage(nil, &fakeMessage{topic: "iotflow/devices/999/telemetry", payload: []byte(`{}`)})

	require.Len(t, queue, QueueDepth)
	assert.EqualValues(t, 1, d.OverflowCount(models.TopicTelemetry))

	first := <-queue
	assert.Equal(t, int64(1), first.Topic.DeviceID) // device 0 was head-dropped
}

func TestDispatcherStateTransitions(t *testing.T) {
	d := New(Config{}, nil)
	assert.Equal(t, StateInit, d.State())

	d.setState(StateConnecting)
	assert.Equal(t, "connecting", d.State().String())

	d.setState(StateSubscribed)
	assert.Equal(t, StateSubscribed, d.State())
}

func TestNextDelayCapsAtMax(t *testing.T) {
	d := initialReconnectDelay
	for i := 0; i < 20; i++ {
		d = nextDelay(d)
	}

	assert.LessOrEqual(t, d, maxReconnectDelay)
}
