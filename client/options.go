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

package client

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Default values of the options.
const (
	DefaultReconnectBaseInterval = 100 * time.Millisecond
	DefaultReconnectMaxInterval  = 5 * time.Second
	DefaultFrameBufferSize       = 256
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// Token is the token of the client. Each handshake is authenticated with
	// this token.
	Token string

	// User is the user the client names itself while the server does not
	// check tokens.
	User string

	// ReconnectBaseInterval and ReconnectMaxInterval bound the exponential
	// wait between reconnect attempts.
	ReconnectBaseInterval time.Duration
	ReconnectMaxInterval  time.Duration

	// FrameBufferSize is the number of received frames buffered for Frames.
	FrameBufferSize int

	// Dialer dials the websocket connection.
	Dialer *websocket.Dialer

	// Logger is the Logger of the client.
	Logger *zap.Logger
}

// WithToken configures the token of the client.
func WithToken(token string) Option {
	return func(o *Options) { o.Token = token }
}

// WithUser configures the user of the client.
func WithUser(user string) Option {
	return func(o *Options) { o.User = user }
}

// WithReconnectInterval configures the wait between reconnect attempts.
func WithReconnectInterval(base, max time.Duration) Option {
	return func(o *Options) {
		o.ReconnectBaseInterval = base
		o.ReconnectMaxInterval = max
	}
}

// WithFrameBufferSize configures the buffer of received frames.
func WithFrameBufferSize(size int) Option {
	return func(o *Options) { o.FrameBufferSize = size }
}

// WithDialer configures the websocket dialer of the client.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *Options) { o.Dialer = dialer }
}

// WithLogger configures the Logger of the client.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
