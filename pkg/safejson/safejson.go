// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package safejson encodes and decodes JSON with goccy/go-json and falls back
// to encoding/json when goccy panics on an input.
package safejson

import (
	"encoding/base64"
	jsonstd "encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/hwvtep-core/pkg/logger"
)

// Unmarshal decodes val into decoded, which must be a non-nil pointer.
func Unmarshal(val []byte, decoded any) (err error) {
	ptr := reflect.ValueOf(decoded)
	if !ptr.IsValid() || ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return errors.New("decoded must be a non-nil pointer")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.For(logger.ComponentSafeJSON).Warnf("goccy failed to decode, attempting to use stdlib, error: %v (Payload: %s)",
				r, base64.StdEncoding.EncodeToString(val))

			// goccy may have written part of the value before panicking
			fresh := reflect.New(ptr.Elem().Type())
			if err = jsonstd.Unmarshal(val, fresh.Interface()); err == nil {
				ptr.Elem().Set(fresh.Elem())
			} else {
				err = fmt.Errorf("decoding after goccy panic %v: %w", r, err)
			}
		}
	}()

	return json.Unmarshal(val, decoded)
}

// Marshal encodes val.
func Marshal(val any) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.For(logger.ComponentSafeJSON).Warnf("goccy failed to encode, attempting to use stdlib, error: %v", r)

			encoded, err = jsonstd.Marshal(val)
		}
	}()

	return json.Marshal(val)
}

// MarshalIndent encodes val with indentation.
func MarshalIndent(val any, prefix, indent string) (encoded []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.For(logger.ComponentSafeJSON).Warnf("goccy failed to encode, attempting to use stdlib, error: %v", r)

			encoded, err = jsonstd.MarshalIndent(val, prefix, indent)
		}
	}()

	return json.MarshalIndent(val, prefix, indent)
}

// MustMarshal is Marshal that panics on error.
func MustMarshal(val any) []byte {
	encoded, err := Marshal(val)
	if err != nil {
		panic(err)
	}

	return encoded
}
