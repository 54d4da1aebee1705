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

// Package housekeeping runs the periodic tasks of the server: evicting idle
// groups and compacting documents whose snapshot is old.
package housekeeping

import (
	"fmt"
	"time"
)

// Default values of the configuration.
const (
	DefaultInterval           = "30s"
	DefaultCompactionInterval = "1m"
)

// Config is the configuration for the housekeeping service.
type Config struct {
	// Interval is the time between sweeps of idle groups.
	Interval string `yaml:"Interval"`

	// CompactionInterval is the time between checks for documents whose
	// snapshot is older than the snapshot period.
	CompactionInterval string `yaml:"CompactionInterval"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.Interval == "" {
		c.Interval = DefaultInterval
	}
	if c.CompactionInterval == "" {
		c.CompactionInterval = DefaultCompactionInterval
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Interval); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--housekeeping-interval" flag: %w`,
			c.Interval,
			err,
		)
	}

	if _, err := time.ParseDuration(c.CompactionInterval); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--housekeeping-compaction-interval" flag: %w`,
			c.CompactionInterval,
			err,
		)
	}

	return nil
}

// ParseInterval parses the interval.
func (c *Config) ParseInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("parse interval %s: %w", c.Interval, err)
	}

	return interval, nil
}

// ParseCompactionInterval parses the compaction interval.
func (c *Config) ParseCompactionInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.CompactionInterval)
	if err != nil {
		return 0, fmt.Errorf("parse compaction interval %s: %w", c.CompactionInterval, err)
	}

	return interval, nil
}
