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

// Package interceptors provides the gRPC interceptors of the server.
package interceptors

import (
	"context"
	"strconv"
	"sync/atomic"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/wavelet-team/wavelet/server/logging"
)

// LoggingInterceptor attaches a request logger named r<n> to the context of
// every call. The logger carries the method and the peer address.
type LoggingInterceptor struct {
	seq atomic.Int64
}

// NewLoggingInterceptor creates a new instance of LoggingInterceptor.
func NewLoggingInterceptor() *LoggingInterceptor {
	return &LoggingInterceptor{}
}

// Unary creates a unary server interceptor for request logging.
func (i *LoggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		return handler(i.withLogger(ctx, info.FullMethod), req)
	}
}

// Stream creates a stream server interceptor for request logging.
func (i *LoggingInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		wrapped := grpcmiddleware.WrapServerStream(ss)
		wrapped.WrappedContext = i.withLogger(ss.Context(), info.FullMethod)
		return handler(srv, wrapped)
	}
}

func (i *LoggingInterceptor) withLogger(ctx context.Context, method string) context.Context {
	fields := []logging.Field{logging.NewField("method", method)}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, logging.NewField("peer", p.Addr.String()))
	}

	name := "r" + strconv.FormatInt(i.seq.Add(1), 10)
	return logging.With(ctx, logging.New(name, fields...))
}
