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

package redis

import (
	"errors"
	"fmt"
)

// Default values of the configuration.
const (
	DefaultAddr          = "localhost:6379"
	DefaultChannelPrefix = "wavelet"
)

// ErrEmptyAddr is returned when the address is missing.
var ErrEmptyAddr = errors.New("redis address is empty")

// Config is the configuration of the redis bus.
type Config struct {
	Addr          string `yaml:"Addr"`
	Password      string `yaml:"Password"`
	DB            int    `yaml:"DB"`
	ChannelPrefix string `yaml:"ChannelPrefix"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf(`invalid argument "" for "--redis-addr" flag: %w`, ErrEmptyAddr)
	}
	return nil
}
