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

package client_test

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/client"
	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/housekeeping"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
	"github.com/wavelet-team/wavelet/server/rpc"
	"github.com/wavelet-team/wavelet/server/session"
)

const waitTimeout = 3 * time.Second

func newServer(t *testing.T) *httptest.Server {
	beConf := &backend.Config{}
	beConf.EnsureDefaultValue()
	accessConf := &access.Config{}
	accessConf.EnsureDefaultValue()
	persistenceConf := &persistence.Config{}
	persistenceConf.EnsureDefaultValue()
	registryConf := &registry.Config{}
	registryConf.EnsureDefaultValue()
	housekeepingConf := &housekeeping.Config{}
	housekeepingConf.EnsureDefaultValue()

	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)
	be, err := backend.New(
		beConf,
		accessConf,
		persistenceConf,
		registryConf,
		housekeepingConf,
		backend.Stores{},
		backend.Buses{},
		metrics,
	)
	require.NoError(t, err)
	require.NoError(t, be.Start())

	conf := &rpc.Config{}
	conf.EnsureDefaultValue()
	sessionConf := &session.Config{}
	sessionConf.EnsureDefaultValue()
	srv, err := rpc.NewServer(conf, sessionConf, be)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(false)
		ts.Close()
		assert.NoError(t, be.Shutdown(context.Background()))
	})
	return ts
}

// proxy forwards TCP connections to the server so that a test can break
// them.
type proxy struct {
	listener net.Listener
	target   string

	mu    sync.Mutex
	conns []net.Conn
}

func newProxy(t *testing.T, target string) *proxy {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &proxy{listener: lis, target: target}
	go p.serve()
	t.Cleanup(func() {
		_ = lis.Close()
		p.drop()
	})
	return p
}

func (p *proxy) serve() {
	for {
		downstream, err := p.listener.Accept()
		if err != nil {
			return
		}
		upstream, err := net.Dial("tcp", p.target)
		if err != nil {
			_ = downstream.Close()
			continue
		}

		p.mu.Lock()
		p.conns = append(p.conns, downstream, upstream)
		p.mu.Unlock()

		go func() { _, _ = io.Copy(upstream, downstream) }()
		go func() { _, _ = io.Copy(downstream, upstream) }()
	}
}

// drop breaks every forwarded connection.
func (p *proxy) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		_ = conn.Close()
	}
	p.conns = nil
}

func (p *proxy) url() string {
	return "ws://" + p.listener.Addr().String() + rpc.WebsocketPath
}

func next(t *testing.T, cli *client.Client) *types.Frame {
	select {
	case frame, ok := <-cli.Frames():
		require.True(t, ok, "frames closed")
		return frame
	case <-time.After(waitTimeout):
		t.Fatal("no frame from the server")
		return nil
	}
}

func TestClient(t *testing.T) {
	k := key.New("acme", "doc")

	t.Run("subscribe and update test", func(t *testing.T) {
		ts := newServer(t)
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + rpc.WebsocketPath

		cli, err := client.Dial(context.Background(), url, client.WithUser("alice"))
		require.NoError(t, err)
		defer func() { assert.NoError(t, cli.Close()) }()

		require.NoError(t, cli.Subscribe(k))
		snapshot := next(t, cli)
		assert.Equal(t, types.FrameSnapshot, snapshot.Type)

		op, err := rga.NewReplica("alice").Insert(0, "a")
		require.NoError(t, err)
		require.NoError(t, cli.Update(snapshot.Version, op, 1))
		ack := next(t, cli)
		assert.Equal(t, types.FrameAck, ack.Type)
		assert.Equal(t, int64(1), ack.ClientClock)

		require.NoError(t, cli.Ping())
		assert.Equal(t, types.FramePong, next(t, cli).Type)
	})

	t.Run("reconnect resubscribes test", func(t *testing.T) {
		ts := newServer(t)
		p := newProxy(t, strings.TrimPrefix(ts.URL, "http://"))

		cli, err := client.Dial(
			context.Background(),
			p.url(),
			client.WithUser("alice"),
			client.WithReconnectInterval(10*time.Millisecond, 50*time.Millisecond),
		)
		require.NoError(t, err)
		defer func() { _ = cli.Close() }()

		require.NoError(t, cli.Subscribe(k))
		require.Equal(t, types.FrameSnapshot, next(t, cli).Type)

		op, err := rga.NewReplica("alice").Insert(0, "a")
		require.NoError(t, err)
		require.NoError(t, cli.Update(0, op, 1))
		require.Equal(t, types.FrameAck, next(t, cli).Type)

		p.drop()

		snapshot := next(t, cli)
		assert.Equal(t, types.FrameSnapshot, snapshot.Type)
		assert.Equal(t, int64(1), snapshot.Version)
		replica, err := rga.Decode(snapshot.Payload, "alice")
		require.NoError(t, err)
		assert.Equal(t, "a", replica.String())
	})

	t.Run("close test", func(t *testing.T) {
		ts := newServer(t)
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + rpc.WebsocketPath

		cli, err := client.Dial(context.Background(), url)
		require.NoError(t, err)
		require.NoError(t, cli.Close())
		assert.NoError(t, cli.Close())

		_, ok := <-cli.Frames()
		assert.False(t, ok)
		assert.ErrorIs(t, cli.Subscribe(k), client.ErrClientClosed)
	})

	t.Run("dial failure test", func(t *testing.T) {
		_, err := client.Dial(context.Background(), "ws://127.0.0.1:1/ws")
		assert.Error(t, err)
	})
}
