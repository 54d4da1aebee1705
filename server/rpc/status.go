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

package rpc

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/server/rpc/auth"
	"github.com/wavelet-team/wavelet/server/session"
)

// maxCloseReason is the longest reason of a websocket close frame.
const maxCloseReason = 123

// grpcCodes maps the codes of error frames to gRPC codes.
var grpcCodes = map[types.ErrorCode]codes.Code{
	types.CodeAccessDenied:     codes.PermissionDenied,
	types.CodeReadOnly:         codes.PermissionDenied,
	types.CodeGroupUnavailable: codes.Unavailable,
	types.CodeBackpressure:     codes.ResourceExhausted,
	types.CodeInvalidFrame:     codes.InvalidArgument,
	types.CodeNotSubscribed:    codes.FailedPrecondition,
	types.CodeInternal:         codes.Internal,
}

// closeCodes maps the codes of error frames to websocket close codes.
var closeCodes = map[types.ErrorCode]int{
	types.CodeAccessDenied:     websocket.ClosePolicyViolation,
	types.CodeReadOnly:         websocket.ClosePolicyViolation,
	types.CodeGroupUnavailable: websocket.CloseTryAgainLater,
	types.CodeBackpressure:     websocket.CloseTryAgainLater,
	types.CodeInvalidFrame:     websocket.CloseUnsupportedData,
	types.CodeNotSubscribed:    websocket.ClosePolicyViolation,
	types.CodeInternal:         websocket.CloseInternalServerErr,
}

// toStatusError returns the gRPC status of the reason a session ended.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	}

	code := session.ErrorCode(err)
	if code == types.CodeInternal {
		return grpcstatus.Error(codes.Internal, "internal error")
	}
	return grpcstatus.Error(grpcCodes[code], err.Error())
}

// closeMessage returns the websocket close frame of the reason a session
// ended.
func closeMessage(err error) []byte {
	if err == nil {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	}
	if errors.Is(err, session.ErrSessionClosed) {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	}

	code := session.ErrorCode(err)
	reason := err.Error()
	if code == types.CodeInternal {
		reason = "internal error"
	}
	return websocket.FormatCloseMessage(closeCodes[code], truncate(reason, maxCloseReason))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
