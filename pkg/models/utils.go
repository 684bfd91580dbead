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

import (
	"errors"
	"reflect"
	"strings"
)

// ErrInputMustBeStruct indicates that the input must be a struct or pointer to struct.
var ErrInputMustBeStruct = errors.New("input must be a struct or pointer to struct")

// FilterSensitiveFields removes fields marked with `sensitive:"true"` tag from a
// struct before it is logged. This keeps API keys and broker credentials out of
// the structured log sink when the loaded Config is dumped at startup.
func FilterSensitiveFields(input interface{}) (map[string]interface{}, error) {
	if input == nil {
		return make(map[string]interface{}), nil
	}

	result := filterRecursively(input)
	if result == nil {
		return make(map[string]interface{}), nil
	}

	resultMap, ok := result.(map[string]interface{})
	if !ok {
		return nil, ErrInputMustBeStruct
	}

	return resultMap, nil
}

func filterRecursively(input interface{}) interface{} {
	if input == nil {
		return nil
	}

	rv := reflect.ValueOf(input)
	rt := reflect.TypeOf(input)

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}

		rv = rv.Elem()
		rt = rt.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return filterStruct(rv, rt)
	case reflect.Slice, reflect.Array:
		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = filterRecursively(rv.Index(i).Interface())
		}

		return result
	case reflect.Map:
		result := make(map[string]interface{})

		for _, key := range rv.MapKeys() {
			if keyStr, ok := key.Interface().(string); ok {
				result[keyStr] = filterRecursively(rv.MapIndex(key).Interface())
			}
		}

		return result
	default:
		return input
	}
}

func filterStruct(rv reflect.Value, rt reflect.Type) map[string]interface{} {
	result := make(map[string]interface{})

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)

		if !fieldValue.CanInterface() {
			continue
		}

		if field.Tag.Get("sensitive") == "true" {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name

		var tagOptions string

		if jsonTag != "" {
			if commaIdx := strings.Index(jsonTag, ","); commaIdx != -1 {
				fieldName = jsonTag[:commaIdx]
				tagOptions = jsonTag[commaIdx+1:]
			} else {
				fieldName = jsonTag
			}
		}

		if strings.Contains(tagOptions, "omitempty") && fieldValue.IsZero() {
			continue
		}

		result[fieldName] = filterRecursively(fieldValue.Interface())
	}

	return result
}
