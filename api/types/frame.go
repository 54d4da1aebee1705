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

// Package types defines the frames exchanged between clients and the server.
package types

import (
	"errors"
	"fmt"

	"github.com/wavelet-team/wavelet/internal/validation"
	"github.com/wavelet-team/wavelet/pkg/document/key"
)

// ErrInvalidFrame is returned for a frame that cannot be handled.
var ErrInvalidFrame = errors.New("invalid frame")

// FrameType is the type of a frame.
type FrameType string

// Frames sent by clients.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameUpdate      FrameType = "update"
	FramePing        FrameType = "ping"
)

// Frames sent by the server.
const (
	FrameSnapshot FrameType = "snapshot"
	FrameDelta    FrameType = "delta"
	FrameAck      FrameType = "ack"
	FramePong     FrameType = "pong"
	FrameError    FrameType = "error"
)

// ErrorCode tells the client which failure an error frame reports.
type ErrorCode string

// Error codes of error frames.
const (
	CodeAccessDenied     ErrorCode = "access_denied"
	CodeGroupUnavailable ErrorCode = "group_unavailable"
	CodeBackpressure     ErrorCode = "backpressure"
	CodeInvalidFrame     ErrorCode = "invalid_frame"
	CodeReadOnly         ErrorCode = "read_only"
	CodeNotSubscribed    ErrorCode = "not_subscribed"
	CodeInternal         ErrorCode = "internal"
)

// Frame is one message of the synchronization protocol.
//
// Snapshot and delta frames carry the version of the group after the
// payload. Update frames carry the last version the client has seen.
type Frame struct {
	Type      FrameType `json:"type" validate:"required,oneof=subscribe unsubscribe update ping snapshot delta ack pong error"`
	Workspace string    `json:"workspace,omitempty"`
	Object    string    `json:"object,omitempty"`
	Version   int64     `json:"version,omitempty" validate:"gte=0"`
	Payload   []byte    `json:"payload,omitempty"`

	// ClientClock is an opaque value of the client echoed in acks.
	ClientClock int64 `json:"client_clock,omitempty"`

	Code     ErrorCode         `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Key returns the document the frame refers to.
func (f *Frame) Key() key.Key {
	return key.New(f.Workspace, f.Object)
}

// Validate checks an inbound frame of a client.
func (f *Frame) Validate() error {
	if err := validation.ValidateStruct(f); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidFrame)
	}

	switch f.Type {
	case FrameSubscribe:
		if err := f.Key().Validate(); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalidFrame)
		}
	case FrameUpdate:
		if len(f.Payload) == 0 {
			return fmt.Errorf("update without payload: %w", ErrInvalidFrame)
		}
	case FrameUnsubscribe, FramePing:
	default:
		return fmt.Errorf("%s from client: %w", f.Type, ErrInvalidFrame)
	}

	return nil
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(code ErrorCode, message string, metadata map[string]string) *Frame {
	return &Frame{
		Type:     FrameError,
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}
