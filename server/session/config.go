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

package session

import (
	"fmt"
	"time"
)

// Default values of the configuration.
const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = "10s"
)

// Config is the configuration of connection sessions.
type Config struct {
	// QueueSize is the capacity of the outbound queue of a session. A
	// session whose queue is full is disconnected.
	QueueSize int `yaml:"QueueSize"`

	// WriteTimeout bounds writing one frame to the transport.
	WriteTimeout string `yaml:"WriteTimeout"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf(`invalid argument "%d" for "--session-queue-size" flag`, c.QueueSize)
	}

	if _, err := time.ParseDuration(c.WriteTimeout); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--session-write-timeout" flag: %w`,
			c.WriteTimeout,
			err,
		)
	}

	return nil
}

// ParseWriteTimeout returns the write timeout.
func (c *Config) ParseWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.WriteTimeout)
	if err != nil {
		panic(fmt.Sprintf("parse write timeout %s: %v", c.WriteTimeout, err))
	}
	return d
}
