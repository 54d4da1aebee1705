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

package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/wavelet-team/wavelet/server/logging"
)

// SlowThreshold is the threshold for slow unary RPC.
const SlowThreshold = 100 * time.Millisecond

// DefaultInterceptor logs the outcome of every call.
type DefaultInterceptor struct{}

// NewDefaultInterceptor creates a new instance of DefaultInterceptor.
func NewDefaultInterceptor() *DefaultInterceptor {
	return &DefaultInterceptor{}
}

// Unary creates a unary server interceptor for default.
func (i *DefaultInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logging.From(ctx).Warnf("RPC : %q %s => %q", info.FullMethod, time.Since(start), err)
			return nil, err
		}

		if time.Since(start) > SlowThreshold {
			logging.From(ctx).Infof("RPC : %q %s", info.FullMethod, time.Since(start))
		}
		return resp, nil
	}
}

// Stream creates a stream server interceptor for default.
func (i *DefaultInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx := ss.Context()
		start := time.Now()
		err := handler(srv, ss)
		if err == nil {
			logging.From(ctx).Debugf("RPC : stream %q %s", info.FullMethod, time.Since(start))
			return nil
		}

		switch grpcstatus.Code(err) {
		case codes.Canceled, codes.Unavailable, codes.ResourceExhausted:
			logging.From(ctx).Debugf("RPC : stream %q %s => %q", info.FullMethod, time.Since(start), err)
		default:
			logging.From(ctx).Warnf("RPC : stream %q %s => %q", info.FullMethod, time.Since(start), err)
		}
		return err
	}
}
