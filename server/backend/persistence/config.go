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

package persistence

import (
	"errors"
	"fmt"
	"time"
)

// Default values of the configuration.
const (
	DefaultFlushInterval     = "500ms"
	DefaultFlushThreshold    = 64
	DefaultSnapshotInterval  = 500
	DefaultSnapshotPeriod    = "5m"
	DefaultRetryBaseInterval = "100ms"
	DefaultRetryMaxInterval  = "5s"
	DefaultMaxRetries        = 5
	DefaultDegradedAfter     = 3
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = "10s"
)

// ErrInvalidConfig is returned for a non positive count.
var ErrInvalidConfig = errors.New("invalid persistence config")

// Config is the configuration of the persistence coordinator.
type Config struct {
	// FlushInterval is the longest time a local delta waits before it is
	// written.
	FlushInterval string `yaml:"FlushInterval"`

	// FlushThreshold is the number of pending deltas that flushes at once.
	FlushThreshold int `yaml:"FlushThreshold"`

	// SnapshotInterval is the number of appended deltas between snapshots.
	SnapshotInterval int `yaml:"SnapshotInterval"`

	// SnapshotPeriod is the longest time between snapshots of a document
	// that received deltas.
	SnapshotPeriod string `yaml:"SnapshotPeriod"`

	RetryBaseInterval string `yaml:"RetryBaseInterval"`
	RetryMaxInterval  string `yaml:"RetryMaxInterval"`
	MaxRetries        uint64 `yaml:"MaxRetries"`

	// DegradedAfter is the number of consecutive failed flushes after which
	// the document is reported degraded.
	DegradedAfter int `yaml:"DegradedAfter"`

	// BreakerFailures is the number of consecutive store failures that open
	// the circuit breaker.
	BreakerFailures uint32 `yaml:"BreakerFailures"`

	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout string `yaml:"BreakerTimeout"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.FlushInterval == "" {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushThreshold == 0 {
		c.FlushThreshold = DefaultFlushThreshold
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.SnapshotPeriod == "" {
		c.SnapshotPeriod = DefaultSnapshotPeriod
	}
	if c.RetryBaseInterval == "" {
		c.RetryBaseInterval = DefaultRetryBaseInterval
	}
	if c.RetryMaxInterval == "" {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DegradedAfter == 0 {
		c.DegradedAfter = DefaultDegradedAfter
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerTimeout == "" {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for flag, value := range map[string]string{
		"--flush-interval":      c.FlushInterval,
		"--snapshot-period":     c.SnapshotPeriod,
		"--retry-base-interval": c.RetryBaseInterval,
		"--retry-max-interval":  c.RetryMaxInterval,
		"--breaker-timeout":     c.BreakerTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf(`invalid argument "%s" for "%s" flag: %w`, value, flag, err)
		}
	}

	for flag, value := range map[string]int{
		"--flush-threshold":   c.FlushThreshold,
		"--snapshot-interval": c.SnapshotInterval,
		"--degraded-after":    c.DegradedAfter,
	} {
		if value <= 0 {
			return fmt.Errorf(`invalid argument "%d" for "%s" flag: %w`, value, flag, ErrInvalidConfig)
		}
	}

	return nil
}

// ParseFlushInterval returns the flush interval.
func (c *Config) ParseFlushInterval() time.Duration {
	return mustParse(c.FlushInterval)
}

// ParseSnapshotPeriod returns the snapshot period.
func (c *Config) ParseSnapshotPeriod() time.Duration {
	return mustParse(c.SnapshotPeriod)
}

// ParseRetryBaseInterval returns the first wait between retries.
func (c *Config) ParseRetryBaseInterval() time.Duration {
	return mustParse(c.RetryBaseInterval)
}

// ParseRetryMaxInterval returns the longest wait between retries.
func (c *Config) ParseRetryMaxInterval() time.Duration {
	return mustParse(c.RetryMaxInterval)
}

// ParseBreakerTimeout returns how long the breaker stays open.
func (c *Config) ParseBreakerTimeout() time.Duration {
	return mustParse(c.BreakerTimeout)
}

// mustParse parses a duration already checked by Validate.
func mustParse(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("parse duration %q: %v", value, err))
	}
	return d
}
