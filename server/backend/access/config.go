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

package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/wavelet-team/wavelet/pkg/webhook"
)

// Authorizer backends.
const (
	BackendAllow   = "allow"
	BackendCasbin  = "casbin"
	BackendWebhook = "webhook"
)

// Default values of the configuration.
const (
	DefaultBackend               = BackendAllow
	DefaultWebhookRequestTimeout = "3s"
	DefaultWebhookMaxRetries     = 3
	DefaultWebhookBaseInterval   = "100ms"
	DefaultWebhookMaxInterval    = "2s"
)

var (
	// ErrUnknownBackend is returned for an unknown authorizer backend.
	ErrUnknownBackend = errors.New("unknown access backend")

	// ErrEmptyPolicy is returned when the casbin backend has no policy.
	ErrEmptyPolicy = errors.New("casbin policy is empty")
)

// Config is the configuration of the authorizer.
type Config struct {
	// Backend is one of "allow", "casbin" and "webhook".
	Backend string `yaml:"Backend"`

	Casbin  CasbinConfig  `yaml:"Casbin"`
	Webhook WebhookConfig `yaml:"Webhook"`
}

// CasbinConfig configures the casbin authorizer.
type CasbinConfig struct {
	// Model overrides the default model text.
	Model string `yaml:"Model"`

	// PolicyPath is a CSV file of policy lines.
	PolicyPath string `yaml:"PolicyPath"`

	// Policies are policy lines such as "p, alice, /acme/*, write".
	Policies []string `yaml:"Policies"`
}

// WebhookConfig configures the webhook authorizer.
type WebhookConfig struct {
	URL            string `yaml:"URL"`
	Secret         string `yaml:"Secret"`
	RequestTimeout string `yaml:"RequestTimeout"`
	MaxRetries     uint64 `yaml:"MaxRetries"`
	BaseInterval   string `yaml:"BaseInterval"`
	MaxInterval    string `yaml:"MaxInterval"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Webhook.RequestTimeout == "" {
		c.Webhook.RequestTimeout = DefaultWebhookRequestTimeout
	}
	if c.Webhook.MaxRetries == 0 {
		c.Webhook.MaxRetries = DefaultWebhookMaxRetries
	}
	if c.Webhook.BaseInterval == "" {
		c.Webhook.BaseInterval = DefaultWebhookBaseInterval
	}
	if c.Webhook.MaxInterval == "" {
		c.Webhook.MaxInterval = DefaultWebhookMaxInterval
	}
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAllow:
	case BackendCasbin:
		if c.Casbin.PolicyPath == "" && len(c.Casbin.Policies) == 0 {
			return fmt.Errorf(`invalid argument "" for "--access-casbin-policy" flag: %w`, ErrEmptyPolicy)
		}
	case BackendWebhook:
		if err := webhook.ValidateWebhookURL(c.Webhook.URL); err != nil {
			return fmt.Errorf(`invalid argument "%s" for "--access-webhook-url" flag: %w`, c.Webhook.URL, err)
		}
		for flag, value := range map[string]string{
			"--access-webhook-request-timeout": c.Webhook.RequestTimeout,
			"--access-webhook-base-interval":   c.Webhook.BaseInterval,
			"--access-webhook-max-interval":    c.Webhook.MaxInterval,
		} {
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf(`invalid argument "%s" for "%s" flag: %w`, value, flag, err)
			}
		}
	default:
		return fmt.Errorf(`invalid argument "%s" for "--access-backend" flag: %w`, c.Backend, ErrUnknownBackend)
	}

	return nil
}

// New creates the authorizer described by the configuration.
func New(conf *Config) (Authorizer, error) {
	switch conf.Backend {
	case BackendAllow:
		return AllowAll{}, nil
	case BackendCasbin:
		return NewCasbin(&conf.Casbin)
	case BackendWebhook:
		return NewWebhook(&conf.Webhook)
	default:
		return nil, fmt.Errorf("%s: %w", conf.Backend, ErrUnknownBackend)
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
