/*
 * Copyright 2026 The Wavelet Authors. All rights reserved.
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

// Package key provides the identity of a document.
package key

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wavelet-team/wavelet/internal/validation"
)

const (
	// Splitter separates the workspace and the object in a combined key.
	Splitter = "$"
	tokenLen = 2
)

// ErrInvalidCombinedKey is returned when the given combined key is invalid.
var ErrInvalidCombinedKey = errors.New("invalid combined key")

// Key is the identity of a document: the workspace it belongs to and the
// object within the workspace. A Key is immutable once assigned.
type Key struct {
	Workspace string `validate:"required,slug,min=1,max=64"`
	Object    string `validate:"required,case_sensitive_slug,min=1,max=128"`
}

// New creates a Key.
func New(workspace, object string) Key {
	return Key{Workspace: workspace, Object: object}
}

// FromCombinedKey parses a key produced by CombinedKey.
func FromCombinedKey(k string) (Key, error) {
	splits := strings.Split(k, Splitter)
	if len(splits) != tokenLen {
		return Key{}, fmt.Errorf("%s: %w", k, ErrInvalidCombinedKey)
	}

	key := Key{Workspace: splits[0], Object: splits[1]}
	if err := key.Validate(); err != nil {
		return Key{}, fmt.Errorf("%s: %w", k, err)
	}
	return key, nil
}

// CombinedKey returns the string form of this key.
func (k Key) CombinedKey() string {
	return k.Workspace + Splitter + k.Object
}

// String returns the string form of this key.
func (k Key) String() string {
	return k.CombinedKey()
}

// Validate checks that both parts of the key are well formed.
func (k Key) Validate() error {
	return validation.ValidateStruct(k)
}
