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
	"encoding/json"

	"github.com/iotflow/ingestor/pkg/models"
)

// sanitizeForKV marshals a configuration struct after removing any fields
// tagged sensitive:"true". Callers use this to log the resolved config at
// startup without leaking broker credentials or API keys.
func sanitizeForKV(cfg interface{}) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}

	safeData, err := models.FilterSensitiveFields(cfg)
	if err != nil {
		return nil, err
	}

	if len(safeData) == 0 {
		return json.Marshal(cfg)
	}

	return json.Marshal(safeData)
}
