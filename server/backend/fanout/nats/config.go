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

package nats

import (
	"errors"
	"fmt"
)

// Default values of the configuration.
const (
	DefaultURL           = "nats://127.0.0.1:4222"
	DefaultSubjectPrefix = "wavelet"
)

// ErrEmptyURL is returned when the URL is missing.
var ErrEmptyURL = errors.New("nats url is empty")

// Config is the configuration of the NATS bus.
type Config struct {
	URL           string `yaml:"URL"`
	SubjectPrefix string `yaml:"SubjectPrefix"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf(`invalid argument "" for "--nats-url" flag: %w`, ErrEmptyURL)
	}
	return nil
}
