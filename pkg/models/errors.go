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

import "errors"

// ErrNotFound is returned by the Metadata Store Adapter when a lookup has no
// match. It is terminal: callers must not retry it.
var ErrNotFound = errors.New("not found")

// ErrTransient marks a store operation that failed for a reason the caller
// should retry with bounded backoff.
var ErrTransient = errors.New("transient store error")

// ErrPermanent marks a store operation that failed in a way retrying cannot
// fix (schema violation, oversize field).
var ErrPermanent = errors.New("permanent store error")
