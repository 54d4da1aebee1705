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

package group

import (
	"time"

	"github.com/wavelet-team/wavelet/server/backend/access"
)

// MessageType is the type of a message sent to members.
type MessageType string

const (
	// TypeSnapshot carries the full state. It is the first message of every
	// member and is sent again after a reload.
	TypeSnapshot MessageType = "snapshot"

	// TypeDelta carries one delta merged by the group.
	TypeDelta MessageType = "delta"

	// TypeAck confirms an update of the member itself.
	TypeAck MessageType = "ack"
)

// Message is sent from the group to its members.
type Message struct {
	Type    MessageType
	Version int64
	Payload []byte

	// ClientClock echoes the clock of the acknowledged update.
	ClientClock int64
}

// Update is a delta submitted by a member.
type Update struct {
	// GroupVersionSeen is the last version the member had seen.
	GroupVersionSeen int64

	Payload []byte

	// Origin is the session id of the member.
	Origin string

	// ClientClock is an opaque client counter echoed in the acknowledgement.
	ClientClock int64
}

// Member is the view the group has of a session. The group never blocks on a
// member.
type Member interface {
	// ID returns the session id.
	ID() string

	// User returns the authenticated user of the session.
	User() string

	// Send enqueues the message without blocking. It returns false when the
	// outbound queue of the member is full.
	Send(msg Message) bool

	// Disconnect closes the session with the given reason without blocking.
	Disconnect(reason error)
}

// PendingWrite is a local delta not yet confirmed durable.
type PendingWrite struct {
	Version   int64
	Payload   []byte
	Origin    string
	CreatedAt time.Time
}

// Stats is a point in time view of the group.
type Stats struct {
	Version      int64     `json:"version"`
	Members      int       `json:"members"`
	ReadOnly     int       `json:"read_only"`
	Pending      int       `json:"pending"`
	LastActivity time.Time `json:"last_activity"`
	Evicting     bool      `json:"evicting"`
}

type membership struct {
	member   Member
	decision access.Decision
}
