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

package badger

import (
	"errors"
	"fmt"
)

// ErrEmptyPath is returned when a persistent store has no directory.
var ErrEmptyPath = errors.New("badger path is empty")

// Config is the configuration for opening a badger store.
type Config struct {
	// Path is the directory of the database files.
	Path string `yaml:"Path"`

	// InMemory keeps the database in memory only.
	InMemory bool `yaml:"InMemory"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf(`invalid argument "" for "--badger-path" flag: %w`, ErrEmptyPath)
	}
	return nil
}
