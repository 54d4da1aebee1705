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

// Package client is a websocket client of Wavelet sessions. It reconnects
// with exponential backoff when the connection breaks and subscribes again
// to the document it followed, receiving a fresh snapshot.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/pkg/backoff"
	"github.com/wavelet-team/wavelet/pkg/document/key"
)

const writeWait = 10 * time.Second

var (
	// ErrClientClosed is returned when the client is closed.
	ErrClientClosed = errors.New("client is closed")

	// ErrNotConnected is returned when a frame is sent while reconnecting.
	ErrNotConnected = errors.New("client is not connected")
)

// Client is a connection to a Wavelet server that survives disconnects.
type Client struct {
	url     string
	options Options
	logger  *zap.Logger

	frames chan *types.Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu           sync.Mutex
	conn         *websocket.Conn
	subscription *key.Key
	closed       bool
}

// Dial connects to the websocket endpoint of a server, such as
// ws://localhost:8080/ws.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	options := Options{
		ReconnectBaseInterval: DefaultReconnectBaseInterval,
		ReconnectMaxInterval:  DefaultReconnectMaxInterval,
		FrameBufferSize:       DefaultFrameBufferSize,
		Dialer:                websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	query := endpoint.Query()
	if options.Token != "" {
		query.Set("token", options.Token)
	}
	if options.User != "" {
		query.Set("user", options.User)
	}
	endpoint.RawQuery = query.Encode()

	c := &Client{
		url:     endpoint.String(),
		options: options,
		logger:  logger,
		frames:  make(chan *types.Frame, options.FrameBufferSize),
		done:    make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

// Frames returns the frames received from the server. Snapshots, deltas,
// acks, pongs and errors are delivered in the order they arrive.
func (c *Client) Frames() <-chan *types.Frame {
	return c.frames
}

// Subscribe follows the document. The server answers with a snapshot. The
// subscription is repeated after every reconnect.
func (c *Client) Subscribe(k key.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscription = &k
	return c.writeLocked(subscribeFrame(k))
}

// Unsubscribe stops following the document.
func (c *Client) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscription = nil
	return c.writeLocked(&types.Frame{Type: types.FrameUnsubscribe})
}

// Update submits a delta built on top of the given version. clock is
// echoed in the ack of the update. The frame names the followed document.
func (c *Client) Update(version int64, payload []byte, clock int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := &types.Frame{
		Type:        types.FrameUpdate,
		Version:     version,
		Payload:     payload,
		ClientClock: clock,
	}
	if c.subscription != nil {
		frame.Workspace, frame.Object = c.subscription.Workspace, c.subscription.Object
	}
	return c.writeLocked(frame)
}

// Ping asks the server for a pong frame.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(&types.Frame{Type: types.FramePing})
}

// Close closes the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)

	var err error
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.options.Dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", c.url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// run reads the connection and replaces it whenever it breaks.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		err := c.read(conn)

		c.mu.Lock()
		closed := c.closed
		c.conn = nil
		c.mu.Unlock()
		if closed {
			return
		}
		c.logger.Info("connection lost", zap.Error(err))

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame := &types.Frame{}
		if err := json.Unmarshal(data, frame); err != nil {
			c.logger.Warn("drop malformed frame", zap.Error(err))
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return ErrClientClosed
		}
	}
}

// reconnect dials until it succeeds or the client is closed, then
// subscribes again. It returns nil when the client is closed.
func (c *Client) reconnect() *websocket.Conn {
	for retries := uint64(0); ; retries++ {
		wait := backoff.Interval(retries, c.options.ReconnectBaseInterval, c.options.ReconnectMaxInterval)
		select {
		case <-time.After(wait):
		case <-c.done:
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("reconnect", zap.Uint64("retries", retries), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		if c.subscription != nil {
			if err := c.writeLocked(subscribeFrame(*c.subscription)); err != nil {
				c.mu.Unlock()
				_ = conn.Close()
				continue
			}
		}
		c.mu.Unlock()

		c.logger.Info("reconnected", zap.Uint64("retries", retries))
		return conn
	}
}

// writeLocked writes a frame. It must be called with the mutex held.
func (c *Client) writeLocked(frame *types.Frame) error {
	if c.closed {
		return ErrClientClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Type, err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func subscribeFrame(k key.Key) *types.Frame {
	return &types.Frame{
		Type:      types.FrameSubscribe,
		Workspace: k.Workspace,
		Object:    k.Object,
	}
}
