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

package webhook

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidWebhookURL is returned when the webhook URL is invalid.
var ErrInvalidWebhookURL = errors.New("invalid webhook URL")

// ValidateWebhookURL checks that the URL is an absolute http or https URL.
func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %v: %w", err, ErrInvalidWebhookURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q: %w", u.Scheme, ErrInvalidWebhookURL)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("empty hostname: %w", ErrInvalidWebhookURL)
	}

	return nil
}
