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

// Package fanout propagates deltas accepted by one process to the groups of
// the same document resident in other processes.
//
// Delivery is at-least-once and may lose messages. Receivers check the
// per-origin sequence of every envelope: duplicates are dropped and gaps make
// the receiving group reload from durable storage.
package fanout

import (
	"context"

	"github.com/wavelet-team/wavelet/pkg/document/key"
)

// Handler receives envelopes of one document in the order they were
// published by each origin.
type Handler func(ctx context.Context, env *Envelope)

// Subscription is an active subscription to a document.
type Subscription interface {
	// Close stops the delivery to the handler.
	Close() error
}

// Bus delivers envelopes between processes.
type Bus interface {
	// Publish sends the envelope to every subscriber of its document,
	// including subscribers of the same process.
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe registers the handler for the document.
	Subscribe(ctx context.Context, k key.Key, handler Handler) (Subscription, error)

	// Close releases the resources of the bus.
	Close() error
}

// Channel returns the channel or subject name of the document.
func Channel(prefix string, k key.Key, sep string) string {
	return prefix + sep + "doc" + sep + k.CombinedKey()
}
