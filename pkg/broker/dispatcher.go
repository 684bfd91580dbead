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

// Package broker is the Broker Dispatcher (BD): it owns the MQTT
// connection, subscribes to the fixed wildcard pattern set, parses and
// classifies inbound messages, and hands them off to bounded per-kind
// queues.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iotflow/ingestor/pkg/logger"
	"github.com/iotflow/ingestor/pkg/models"
	"github.com/iotflow/ingestor/pkg/obs"
)

// ConnectionState is the dispatcher's connection state machine:
// Init -> Connecting -> Connected -> Subscribed <-> Disconnected ->
// Connecting ...
type ConnectionState int

const (
	StateInit ConnectionState = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "init"
	}
}

// QueueDepth is the default bound for each per-kind channel.
const QueueDepth = 1024

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
	reconnectFactor       = 2.0
)

// Message is what the dispatcher enqueues for a worker to consume.
type Message struct {
	Topic    models.ParsedTopic
	Payload  []byte
	RecvTime time.Time
	QoS      models.QoS
	Retained bool
}

// Config wires the dispatcher to a broker endpoint.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Dispatcher maintains the broker connection and fans inbound messages into
// bounded, per-kind queues that the Ingestion Pipeline drains.
type Dispatcher struct {
	cfg Config
	log logger.Logger

	client mqtt.Client

	mu    sync.RWMutex
	state ConnectionState

	queues   map[models.TopicKind]chan Message
	overflow map[models.TopicKind]*atomic.Int64

	malformedCount atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Dispatcher. Call Run to connect and begin processing.
func New(cfg Config, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		log:      log,
		state:    StateInit,
		queues:   make(map[models.TopicKind]chan Message),
		overflow: make(map[models.TopicKind]*atomic.Int64),
		stopCh:   make(chan struct{}),
	}

	for _, kind := range []models.TopicKind{
		models.TopicTelemetry, models.TopicStatus, models.TopicHeartbeat,
		models.TopicCommand, models.TopicConfig, models.TopicFleetCommand,
		models.TopicSystem, models.TopicDiscovery, models.TopicMonitoring,
	} {
		d.queues[kind] = make(chan Message, QueueDepth)
		d.overflow[kind] = &atomic.Int64{}
	}

	return d
}

// Queue returns the bounded channel the Ingestion Pipeline reads from for a
// given topic kind. Discovery messages are classified but never routed to
// ingestion (no consumer is expected to drain that queue).
func (d *Dispatcher) Queue(kind models.TopicKind) <-chan Message {
	return d.queues[kind]
}

// State returns the current connection state.
func (d *Dispatcher) State() ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.state
}

func (d *Dispatcher) setState(s ConnectionState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run connects to the broker and blocks until ctx is cancelled or Stop is
// called, reconnecting with bounded exponential backoff on every drop.
func (d *Dispatcher) Run(ctx context.Context) error {
	lost := make(chan struct{}, 1)
	opts := mqtt.NewClientOptions().
		AddBroker(d.cfg.Broker).
		SetClientID(d.cfg.ClientID).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetAutoReconnect(false). // dispatcher owns the reconnect loop so attempts counter resets correctly
		SetCleanSession(true).
		SetOnConnectHandler(d.onConnect).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			d.onConnectionLost(c, err)
			select {
			case lost <- struct{}{}:
			default:
			}
		})

	d.client = mqtt.NewClient(opts)

	delay := initialReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopCh:
			return nil
		default:
		}

		d.setState(StateConnecting)

		token := d.client.Connect()
		completed := token.WaitTimeout(10 * time.Second)

		if completed && token.Error() != nil {
			if d.log != nil {
				d.log.Warn().Err(token.Error()).Dur("retry_in", delay).Msg("broker: connect failed")
			}

			if !d.sleep(ctx, delay) {
				return ctx.Err()
			}

			delay = nextDelay(delay)

			continue
		}

		if !completed {
			if d.log != nil {
				d.log.Warn().Err(token.Error()).Dur("retry_in", delay).Msg("broker: connect timed out")
			}

			if !d.sleep(ctx, delay) {
				return ctx.Err()
			}

			delay = nextDelay(delay)

			continue
		}

		delay = initialReconnectDelay

		select {
		case <-lost:
			continue
		case <-ctx.Done():
		case <-d.stopCh:
		}

		d.client.Disconnect(250)

		return ctx.Err()
	}
}

func nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * reconnectFactor)
	if next > maxReconnectDelay {
		return maxReconnectDelay
	}

	return next
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-d.stopCh:
		return false
	case <-time.After(delay):
		return true
	}
}

// onConnect resubscribes to every wildcard pattern before the dispatcher is
// considered Subscribed; no outbound publish is accepted before that.
func (d *Dispatcher) onConnect(client mqtt.Client) {
	d.setState(StateConnected)

	filters := make(map[string]byte, len(WildcardPatterns))
	for _, p := range WildcardPatterns {
		filters[p] = byte(models.QoSAtLeastOnce)
	}

	token := client.SubscribeMultiple(filters, d.handleMessage)
	token.Wait()

	if err := token.Error(); err != nil {
		if d.log != nil {
			d.log.Error().Err(err).Msg("broker: subscribe failed")
		}

		return
	}

	d.setState(StateSubscribed)

	if d.log != nil {
		d.log.Info().Int("pattern_count", len(WildcardPatterns)).Msg("broker: subscribed")
	}
}

func (d *Dispatcher) onConnectionLost(_ mqtt.Client, err error) {
	d.setState(StateDisconnected)

	if d.log != nil {
		d.log.Warn().Err(err).Msg("broker: connection lost")
	}
}

// handleMessage implements per-message handling: parse,
// classify, enqueue with head-drop backpressure.
func (d *Dispatcher) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	topic, err := ParseTopic(msg.Topic())
	if err != nil {
		d.malformedCount.Add(1)
		obs.RecordMalformedTopic(context.Background())

		if d.log != nil {
			d.log.Debug().Str("topic", msg.Topic()).Msg("broker: malformed topic, dropped")
		}

		return
	}

	queue, ok := d.queues[topic.Kind]
	if !ok {
		return
	}

	m := Message{
		Topic:    topic,
		Payload:  msg.Payload(),
		RecvTime: time.Now().UTC(),
		QoS:      models.QoS(msg.Qos()),
		Retained: msg.Retained(),
	}

	select {
	case queue <- m:
	default:
		// Head-drop: evict the oldest queued message for this kind, then
		// enqueue the new one, never blocking the network loop.
		select {
		case <-queue:
		default:
		}

		select {
		case queue <- m:
		default:
		}

		d.overflow[topic.Kind].Add(1)
		obs.RecordOverflowDrop(context.Background(), topic.Kind.String())
	}
}

// OverflowCount returns how many messages of kind were dropped due to a full
// queue since startup.
func (d *Dispatcher) OverflowCount(kind models.TopicKind) int64 {
	if p, ok := d.overflow[kind]; ok {
		return p.Load()
	}

	return 0
}

// MalformedCount returns how many inbound topics failed to parse.
func (d *Dispatcher) MalformedCount() int64 {
	return d.malformedCount.Load()
}

// Publish sends a payload with the qos and retained flag the caller passes;
// it does not derive them from the topic kind. It fails fast with
// mqtt.ErrNotConnected unless the dispatcher is Subscribed.
func (d *Dispatcher) Publish(ctx context.Context, topic string, qos models.QoS, retained bool, payload []byte) error {
	if d.State() != StateSubscribed {
		return mqtt.ErrNotConnected
	}

	token := d.client.Publish(topic, byte(qos), retained, payload)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tokenDone(token):
		return token.Error()
	}
}

func tokenDone(token mqtt.Token) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		token.Wait()
		close(done)
	}()

	return done
}

// Stop disconnects the client and stops the reconnect loop.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}
