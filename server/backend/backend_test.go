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

package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/housekeeping"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/backend/store/badger"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

type member struct{ id string }

func (m member) ID() string              { return m.id }
func (m member) User() string            { return m.id }
func (m member) Send(group.Message) bool { return true }
func (m member) Disconnect(error)        {}

func newBackend(t *testing.T, stores backend.Stores) *backend.Backend {
	be, err := createBackend(t, stores, &housekeeping.Config{})
	require.NoError(t, err)
	return be
}

func createBackend(
	t *testing.T,
	stores backend.Stores,
	housekeepingConf *housekeeping.Config,
) (*backend.Backend, error) {
	conf := &backend.Config{}
	conf.EnsureDefaultValue()
	accessConf := &access.Config{}
	accessConf.EnsureDefaultValue()
	persistenceConf := &persistence.Config{}
	persistenceConf.EnsureDefaultValue()
	registryConf := &registry.Config{}
	registryConf.EnsureDefaultValue()
	housekeepingConf.EnsureDefaultValue()

	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)

	return backend.New(
		conf,
		accessConf,
		persistenceConf,
		registryConf,
		housekeepingConf,
		stores,
		backend.Buses{},
		metrics,
	)
}

func TestBackend(t *testing.T) {
	ctx := context.Background()
	k := key.New("acme", "doc")

	t.Run("shutdown flushes pending writes test", func(t *testing.T) {
		path := t.TempDir()
		be := newBackend(t, backend.Stores{Badger: &badger.Config{Path: path}})
		require.NoError(t, be.Start())
		assert.NotEmpty(t, be.ProcessID)
		assert.Equal(t, rga.EngineName, be.Engine.Name())

		decision, err := be.Authorizer.Check(ctx, "alice", k, access.ModeWrite)
		require.NoError(t, err)
		g, err := be.Registry.AcquireAndAdmit(ctx, k, member{id: "alice"}, decision)
		require.NoError(t, err)

		delta, err := rga.NewReplica("alice").Insert(0, "hello")
		require.NoError(t, err)
		_, err = g.Apply(ctx, group.Update{Payload: delta, Origin: "alice"})
		require.NoError(t, err)
		require.NoError(t, be.Shutdown(ctx))

		st, err := badger.Open(&badger.Config{Path: path})
		require.NoError(t, err)
		defer func() { assert.NoError(t, st.Close()) }()

		record, err := st.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		replica, err := record.Replay(rga.Engine{})
		require.NoError(t, err)
		assert.Equal(t, "hello", replica.(*rga.Replica).String())
	})

	t.Run("failed creation closes the store test", func(t *testing.T) {
		path := t.TempDir()
		_, err := createBackend(t, backend.Stores{Badger: &badger.Config{Path: path}}, &housekeeping.Config{
			Interval: "never",
		})
		assert.Error(t, err)

		// The database directory is locked while it is open.
		be := newBackend(t, backend.Stores{Badger: &badger.Config{Path: path}})
		require.NoError(t, be.Start())
		require.NoError(t, be.Shutdown(ctx))
	})

	t.Run("memory store by default test", func(t *testing.T) {
		be := newBackend(t, backend.Stores{})
		require.NoError(t, be.Start())
		_, err := be.Registry.Acquire(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 1, be.Registry.Len())
		require.NoError(t, be.Shutdown(ctx))
	})
}
