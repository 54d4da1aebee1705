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
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/server/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 10 * time.Second
)

// websocketTransport carries JSON frames over a websocket connection. The
// peer is pinged every pingPeriod and dropped when no pong arrives within
// pongWait.
type websocketTransport struct {
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func newWebsocketTransport(conn *websocket.Conn, maxMessageSize int64) (*websocketTransport, error) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return nil, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &websocketTransport{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

func (t *websocketTransport) Name() string {
	return "websocket"
}

// Read returns the next frame. A message that is not a JSON frame fails
// with types.ErrInvalidFrame.
func (t *websocketTransport) Read(_ context.Context) (*types.Frame, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}

	frame := &types.Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("decode frame: %v: %w", err, types.ErrInvalidFrame)
	}
	return frame, nil
}

func (t *websocketTransport) Write(ctx context.Context, frame *types.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) Close(reason error) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage, closeMessage(reason), time.Now().Add(writeWait))
		err = t.conn.Close()
	})
	return err
}

// keepAlive pings the peer until the transport is closed.
func (t *websocketTransport) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.From(ctx).Debugf("RPC: ping: %v", err)
				return
			}
		case <-t.done:
			return
		}
	}
}

func newUpgrader(conf *Config) *websocket.Upgrader {
	allowed := make(map[string]bool, len(conf.AllowedOrigins))
	for _, origin := range conf.AllowedOrigins {
		allowed[origin] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}
