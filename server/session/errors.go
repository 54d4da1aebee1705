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

package session

import (
	"errors"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/internal/metaerrors"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/registry"
)

var (
	// ErrNotSubscribed is returned for an update of a session without a
	// subscription.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrSessionClosed is the reason of a session closed by the server.
	ErrSessionClosed = errors.New("session closed")

	// ErrProtocolViolation is the reason of a session closed because the
	// client sent a frame it must not send.
	ErrProtocolViolation = errors.New("protocol violation")
)

// codes maps errors to the codes of error frames. The first match wins.
var codes = []struct {
	err  error
	code types.ErrorCode
}{
	{group.ErrAccessDenied, types.CodeAccessDenied},
	{group.ErrReadOnly, types.CodeReadOnly},
	{group.ErrBackpressureDisconnect, types.CodeBackpressure},
	{registry.ErrGroupUnavailable, types.CodeGroupUnavailable},
	{group.ErrGroupClosed, types.CodeGroupUnavailable},
	{registry.ErrRegistryClosed, types.CodeGroupUnavailable},
	{ErrProtocolViolation, types.CodeInvalidFrame},
	{types.ErrInvalidFrame, types.CodeInvalidFrame},
	{group.ErrInvalidUpdate, types.CodeInvalidFrame},
	{ErrNotSubscribed, types.CodeNotSubscribed},
}

// ErrorCode returns the code of the error frame that reports err.
func ErrorCode(err error) types.ErrorCode {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return types.CodeInternal
}

// ErrorFrame creates the error frame reporting err. Metadata attached with
// metaerrors is forwarded.
func ErrorFrame(err error) *types.Frame {
	code := ErrorCode(err)
	message := err.Error()
	if code == types.CodeInternal {
		message = "internal error"
	}
	return types.NewErrorFrame(code, message, metaerrors.MetadataOf(err))
}
