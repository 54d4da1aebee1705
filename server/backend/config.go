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

package backend

import (
	"errors"
	"fmt"

	"github.com/wavelet-team/wavelet/pkg/document/automerge"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
)

// Default values of the configuration.
const (
	DefaultEngine           = rga.EngineName
	DefaultPublishQueueSize = fanout.DefaultQueueSize
)

// ErrUnknownEngine is returned for an engine that is not built in.
var ErrUnknownEngine = errors.New("unknown engine")

// Config is the configuration for creating a Backend instance.
type Config struct {
	// ProcessID identifies this process in fan-out envelopes. A random id is
	// used when it is empty.
	ProcessID string `yaml:"ProcessID"`

	// Engine is the merge engine of documents: "rga" or "automerge".
	Engine string `yaml:"Engine"`

	// PublishQueueSize is the capacity of the queue of envelopes waiting to
	// be published.
	PublishQueueSize int `yaml:"PublishQueueSize"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.PublishQueueSize == 0 {
		c.PublishQueueSize = DefaultPublishQueueSize
	}
}

// Validate validates this config.
func (c *Config) Validate() error {
	switch c.Engine {
	case rga.EngineName, automerge.EngineName:
	default:
		return fmt.Errorf(`invalid argument "%s" for "--engine" flag: %w`, c.Engine, ErrUnknownEngine)
	}

	if c.PublishQueueSize <= 0 {
		return fmt.Errorf(`invalid argument "%d" for "--publish-queue-size" flag`, c.PublishQueueSize)
	}

	return nil
}
