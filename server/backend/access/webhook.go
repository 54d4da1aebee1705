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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/webhook"
)

// CheckRequest is the body posted to the access webhook.
type CheckRequest struct {
	User      string `json:"user"`
	Workspace string `json:"workspace"`
	Object    string `json:"object"`
	Mode      Mode   `json:"mode"`
}

// CheckResponse is the body the access webhook replies with. A 401 or 403
// status denies regardless of the body.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Mode    Mode   `json:"mode"`
	Reason  string `json:"reason,omitempty"`
}

// Webhook asks an external HTTP endpoint.
type Webhook struct {
	client *webhook.Client[CheckRequest, CheckResponse]
}

// NewWebhook creates a webhook authorizer.
func NewWebhook(conf *WebhookConfig) (*Webhook, error) {
	if err := webhook.ValidateWebhookURL(conf.URL); err != nil {
		return nil, err
	}

	return &Webhook{
		client: webhook.NewClient[CheckRequest, CheckResponse](conf.URL, webhook.Options{
			Secret:          conf.Secret,
			RequestTimeout:  parseDuration(conf.RequestTimeout, 3*time.Second),
			MaxRetries:      conf.MaxRetries,
			BaseInterval:    parseDuration(conf.BaseInterval, 100*time.Millisecond),
			MaxWaitInterval: parseDuration(conf.MaxInterval, 2*time.Second),
		}),
	}, nil
}

// Check posts the request and maps the response to a decision.
func (w *Webhook) Check(ctx context.Context, user string, k key.Key, mode Mode) (Decision, error) {
	res, status, err := w.client.Send(ctx, CheckRequest{
		User:      user,
		Workspace: k.Workspace,
		Object:    k.Object,
		Mode:      mode,
	})
	if err != nil {
		return Deny, fmt.Errorf("check %s on %s: %v: %w", user, k, err, ErrCheckFailed)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden || !res.Allowed {
		return Deny, nil
	}

	if res.Mode == ModeRead {
		return AllowRead, nil
	}
	return AllowWrite.Clamp(mode), nil
}
