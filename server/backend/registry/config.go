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

package registry

import (
	"fmt"
	"time"
)

// Default values of the configuration.
const (
	DefaultIdleThreshold = "1m"
	DefaultReloadDelay   = "1s"
)

// Config is the configuration of the group registry.
type Config struct {
	// IdleThreshold is how long a group without members stays resident.
	IdleThreshold string `yaml:"IdleThreshold"`

	// ReloadDelay is the delay of the follow-up reload after a fan-out gap.
	// It should be longer than the flush interval so that the deltas of the
	// publisher are durable by then.
	ReloadDelay string `yaml:"ReloadDelay"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.IdleThreshold == "" {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.ReloadDelay == "" {
		c.ReloadDelay = DefaultReloadDelay
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.IdleThreshold); err != nil {
		return fmt.Errorf(`invalid argument "%s" for "--idle-threshold" flag: %w`, c.IdleThreshold, err)
	}
	if _, err := time.ParseDuration(c.ReloadDelay); err != nil {
		return fmt.Errorf(`invalid argument "%s" for "--reload-delay" flag: %w`, c.ReloadDelay, err)
	}
	return nil
}

// ParseIdleThreshold returns the idle threshold.
func (c *Config) ParseIdleThreshold() time.Duration {
	d, err := time.ParseDuration(c.IdleThreshold)
	if err != nil {
		panic(fmt.Sprintf("parse idle threshold %s: %v", c.IdleThreshold, err))
	}
	return d
}

// ParseReloadDelay returns the reload delay.
func (c *Config) ParseReloadDelay() time.Duration {
	d, err := time.ParseDuration(c.ReloadDelay)
	if err != nil {
		panic(fmt.Sprintf("parse reload delay %s: %v", c.ReloadDelay, err))
	}
	return d
}
