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

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcmetadata "google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/wavelet-team/wavelet/server/rpc/auth"
)

const (
	// AuthorizationKey is the metadata key of the bearer token.
	AuthorizationKey = "authorization"

	// UserKey is the metadata key of the user a client names itself while
	// tokens are disabled.
	UserKey = "x-wavelet-user"
)

// AuthInterceptor authenticates the streams of the methods it guards.
type AuthInterceptor struct {
	authenticator *auth.Authenticator
	methods       map[string]bool
}

// NewAuthInterceptor creates a new instance of AuthInterceptor guarding
// the given full method names.
func NewAuthInterceptor(authenticator *auth.Authenticator, methods ...string) *AuthInterceptor {
	guarded := make(map[string]bool, len(methods))
	for _, m := range methods {
		guarded[m] = true
	}
	return &AuthInterceptor{
		authenticator: authenticator,
		methods:       guarded,
	}
}

// Stream creates a stream server interceptor for authentication.
func (i *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if !i.methods[info.FullMethod] {
			return handler(srv, stream)
		}

		user, err := i.authenticate(stream.Context())
		if err != nil {
			return err
		}

		wrapped := grpcmiddleware.WrapServerStream(stream)
		wrapped.WrappedContext = auth.WithUser(stream.Context(), user)
		return handler(srv, wrapped)
	}
}

func (i *AuthInterceptor) authenticate(ctx context.Context) (string, error) {
	data, _ := grpcmetadata.FromIncomingContext(ctx)

	user, err := i.authenticator.Authenticate(first(data, AuthorizationKey), first(data, UserKey))
	if err != nil {
		return "", grpcstatus.Error(codes.Unauthenticated, err.Error())
	}
	return user, nil
}

func first(data grpcmetadata.MD, key string) string {
	values := data.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
