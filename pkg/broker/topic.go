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
	"errors"
	"strconv"
	"strings"

	"github.com/iotflow/ingestor/pkg/models"
)

// BaseTopic is the root segment every IoT topic lives under.
const BaseTopic = "iotflow"

// ErrMalformedTopic is returned when a raw topic string doesn't match any
// recognized pattern.
var ErrMalformedTopic = errors.New("broker: malformed topic")

// WildcardPatterns is the fixed set of subscriptions the dispatcher
// establishes on every (re)connect.
var WildcardPatterns = []string{
	BaseTopic + "/devices/+/telemetry/#",
	BaseTopic + "/devices/+/status/#",
	BaseTopic + "/devices/+/heartbeat",
	BaseTopic + "/devices/+/commands/#",
	BaseTopic + "/devices/+/config",
	BaseTopic + "/fleet/commands/+",
	BaseTopic + "/fleet/status/+",
	BaseTopic + "/system/+",
	BaseTopic + "/monitoring/+",
	BaseTopic + "/discovery/+/+",
}

// ParseTopic decomposes a raw broker topic string into (kind, device-id,
// subtopic), following the iotflow/<category>/... hierarchy.
func ParseTopic(raw string) (models.ParsedTopic, error) {
	if !strings.HasPrefix(raw, BaseTopic+"/") {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	path := strings.TrimPrefix(raw, BaseTopic+"/")
	parts := strings.Split(path, "/")

	if len(parts) < 2 {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	switch parts[0] {
	case "devices":
		return parseDeviceTopic(raw, parts[1:])
	case "fleet":
		return parseFleetTopic(raw, parts[1:])
	case "system":
		return models.ParsedTopic{Raw: raw, Kind: models.TopicSystem, SubTopic: strings.Join(parts[1:], "/")}, nil
	case "monitoring":
		return models.ParsedTopic{Raw: raw, Kind: models.TopicMonitoring, SubTopic: strings.Join(parts[1:], "/")}, nil
	case "discovery":
		return parseDiscoveryTopic(raw, parts[1:])
	default:
		return models.ParsedTopic{}, ErrMalformedTopic
	}
}

func parseDeviceTopic(raw string, rest []string) (models.ParsedTopic, error) {
	if len(rest) < 2 {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	deviceID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	subtopic := strings.Join(rest[2:], "/")

	kind, retained := classifyDeviceCategory(rest[1], subtopic)
	if kind == models.TopicUnknown {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	return models.ParsedTopic{
		Raw:      raw,
		Kind:     kind,
		DeviceID: deviceID,
		SubTopic: subtopic,
		Retained: retained,
	}, nil
}

func classifyDeviceCategory(category, subtopic string) (models.TopicKind, bool) {
	switch category {
	case "telemetry":
		return models.TopicTelemetry, false
	case "status":
		retained := subtopic == "online" || subtopic == "offline"
		return models.TopicStatus, retained
	case "heartbeat":
		return models.TopicHeartbeat, false
	case "commands":
		retained := subtopic == "config" || subtopic == "firmware"
		return models.TopicCommand, retained
	case "config":
		return models.TopicConfig, true
	default:
		return models.TopicUnknown, false
	}
}

func parseFleetTopic(raw string, rest []string) (models.ParsedTopic, error) {
	if len(rest) < 2 {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	kind := models.TopicUnknown
	if rest[0] == "commands" {
		kind = models.TopicFleetCommand
	} else if rest[0] == "status" {
		kind = models.TopicStatus
	}

	if kind == models.TopicUnknown {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	return models.ParsedTopic{Raw: raw, Kind: kind, GroupID: rest[1], Retained: rest[0] != "status"}, nil
}

func parseDiscoveryTopic(raw string, rest []string) (models.ParsedTopic, error) {
	if len(rest) < 2 {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	deviceID, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return models.ParsedTopic{}, ErrMalformedTopic
	}

	return models.ParsedTopic{Raw: raw, Kind: models.TopicDiscovery, DeviceID: deviceID, SubTopic: rest[0]}, nil
}
