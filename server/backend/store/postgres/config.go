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

package postgres

import (
	"errors"
	"fmt"
	"time"
)

// Default values of the configuration.
const (
	DefaultConnectionTimeout = "5s"
	DefaultMaxConns          = 16
)

// ErrEmptyConnectionURI is returned when the connection URI is missing.
var ErrEmptyConnectionURI = errors.New("postgres connection URI is empty")

// Config is the configuration for creating a Store instance.
type Config struct {
	// ConnectionURI is the libpq style URI of the database.
	ConnectionURI string `yaml:"ConnectionURI"`

	// ConnectionTimeout bounds connecting and creating the schema.
	ConnectionTimeout string `yaml:"ConnectionTimeout"`

	// MaxConns is the size of the connection pool.
	MaxConns int32 `yaml:"MaxConns"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.ConnectionURI == "" {
		return fmt.Errorf(`invalid argument "" for "--postgres-connection-uri" flag: %w`, ErrEmptyConnectionURI)
	}

	if _, err := time.ParseDuration(c.ConnectionTimeout); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--postgres-connection-timeout" flag: %w`,
			c.ConnectionTimeout,
			err,
		)
	}

	return nil
}

// ParseConnectionTimeout returns connection timeout duration.
func (c *Config) ParseConnectionTimeout() time.Duration {
	result, err := time.ParseDuration(c.ConnectionTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return result
}
