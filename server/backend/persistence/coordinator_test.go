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

package persistence_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/background"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/backend/store/memory"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

var errStoreDown = errors.New("store down")

// flakyStore fails appends while failing is set.
type flakyStore struct {
	store.Store
	failing atomic.Bool
	appends atomic.Int32
}

func (s *flakyStore) AppendDeltas(ctx context.Context, k key.Key, base int64, deltas []store.Delta) (int64, error) {
	s.appends.Add(1)
	if s.failing.Load() {
		return 0, errStoreDown
	}
	return s.Store.AppendDeltas(ctx, k, base, deltas)
}

type member struct {
	id string
}

func (m member) ID() string              { return m.id }
func (m member) User() string            { return m.id }
func (m member) Send(group.Message) bool { return true }
func (m member) Disconnect(error)        {}

type reporter struct {
	mu        sync.Mutex
	degraded  []error
	recovered int
}

func (r *reporter) OnDegraded(_ key.Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, err)
}

func (r *reporter) OnRecovered(key.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered++
}

type fixture struct {
	store       *flakyStore
	coordinator *persistence.Coordinator
	group       *group.Group
	replica     *rga.Replica
	reporter    *reporter
	key         key.Key
}

func newFixture(t *testing.T, conf *persistence.Config) *fixture {
	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)
	bg := background.New(metrics)
	t.Cleanup(bg.Close)

	mem, err := memory.New()
	require.NoError(t, err)

	conf.EnsureDefaultValue()
	require.NoError(t, conf.Validate())

	f := &fixture{
		store:    &flakyStore{Store: mem},
		replica:  rga.NewReplica("alice"),
		reporter: &reporter{},
		key:      key.New("acme", "doc"),
	}
	f.coordinator = persistence.New(conf, f.store, rga.Engine{}, bg, metrics)
	f.coordinator.SetReporter(f.reporter)
	t.Cleanup(f.coordinator.Close)

	record, err := f.coordinator.Load(context.Background(), f.key)
	require.NoError(t, err)
	f.group, err = group.New(rga.Engine{}, record, group.Options{
		ProcessID: "p",
		Notifier:  f.coordinator,
		Metrics:   metrics,
	})
	require.NoError(t, err)
	require.NoError(t, f.group.Admit(member{id: "alice"}, access.AllowWrite))
	f.coordinator.Track(f.group, record.Version, len(record.Deltas))
	return f
}

func (f *fixture) edit(t *testing.T, text string) {
	delta, err := f.replica.Insert(f.replica.Len(), text)
	require.NoError(t, err)
	_, err = f.group.Apply(context.Background(), group.Update{Payload: delta, Origin: "alice"})
	require.NoError(t, err)
}

func (f *fixture) storeVersion() int64 {
	version, err := f.store.Version(context.Background(), f.key)
	if err != nil {
		return -1
	}
	return version
}

func TestFlushScheduling(t *testing.T) {
	t.Run("threshold flushes at once test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h", FlushThreshold: 3})
		f.edit(t, "a")
		f.edit(t, "b")
		assert.Equal(t, int64(0), f.storeVersion())

		f.edit(t, "c")
		assert.Eventually(t, func() bool { return f.storeVersion() == 3 }, time.Second, 5*time.Millisecond)
		assert.Eventually(t, func() bool { return f.group.PendingLen() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("interval flushes pending writes test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "20ms", FlushThreshold: 100})
		f.edit(t, "a")
		f.edit(t, "b")

		assert.Eventually(t, func() bool { return f.storeVersion() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, f.group.PendingLen())
	})
}

func TestFlush(t *testing.T) {
	ctx := context.Background()

	t.Run("rebase on a version written elsewhere test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h"})
		other := rga.NewReplica("bob")
		delta, err := other.Insert(0, "z")
		require.NoError(t, err)
		_, err = f.store.AppendDeltas(ctx, f.key, 0, []store.Delta{{Payload: delta, Origin: "bob"}})
		require.NoError(t, err)

		f.edit(t, "a")
		f.edit(t, "b")
		require.NoError(t, f.coordinator.Flush(ctx, f.key))

		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(3), record.Version)
		require.Len(t, record.Deltas, 3)
		assert.Equal(t, "bob", record.Deltas[0].Origin)
		assert.Equal(t, "alice", record.Deltas[2].Origin)
	})

	t.Run("failed flush keeps pending writes and reports degraded test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{
			FlushInterval:     "1h",
			RetryBaseInterval: "1ms",
			RetryMaxInterval:  "1h",
			MaxRetries:        1,
			DegradedAfter:     2,
			BreakerFailures:   100,
		})
		f.store.failing.Store(true)
		f.edit(t, "a")

		assert.ErrorIs(t, f.coordinator.Flush(ctx, f.key), errStoreDown)
		assert.Equal(t, 1, f.group.PendingLen())
		assert.Empty(t, f.reporter.degraded)

		assert.ErrorIs(t, f.coordinator.Flush(ctx, f.key), errStoreDown)
		require.Len(t, f.reporter.degraded, 1)
		assert.ErrorIs(t, f.reporter.degraded[0], persistence.ErrPersistenceDegraded)
		assert.Equal(t, int32(4), f.store.appends.Load())

		f.store.failing.Store(false)
		require.NoError(t, f.coordinator.Flush(ctx, f.key))
		assert.Equal(t, 0, f.group.PendingLen())
		assert.Equal(t, 1, f.reporter.recovered)
		assert.Equal(t, int64(1), f.storeVersion())
	})

	t.Run("open breaker fails fast test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{
			FlushInterval:     "1h",
			RetryBaseInterval: "1ms",
			RetryMaxInterval:  "1h",
			MaxRetries:        3,
			BreakerFailures:   2,
			BreakerTimeout:    "1h",
		})
		f.store.failing.Store(true)
		f.edit(t, "a")

		assert.Error(t, f.coordinator.Flush(ctx, f.key))
		assert.Equal(t, int32(2), f.store.appends.Load())
		assert.Equal(t, 1, f.group.PendingLen())
	})

	t.Run("untracked document test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{})
		f.coordinator.Untrack(f.key)
		assert.ErrorIs(t, f.coordinator.Flush(ctx, f.key), persistence.ErrNotTracked)
	})
}

func TestRetire(t *testing.T) {
	ctx := context.Background()

	t.Run("keep the group version as floor test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h"})
		peer := rga.NewReplica("peer")
		delta, err := peer.Insert(0, "r")
		require.NoError(t, err)
		require.NoError(t, f.group.ApplyRemote(ctx, &fanout.Envelope{Key: f.key, Origin: "q", Seq: 1, Payload: delta}))
		f.edit(t, "a")
		assert.Equal(t, int64(2), f.group.Version())

		require.NoError(t, f.coordinator.Retire(ctx, f.key))
		assert.Equal(t, 0, f.group.PendingLen())

		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		assert.Equal(t, int64(2), record.VersionFloor)
		assert.Equal(t, int64(2), record.StartVersion())
	})

	t.Run("no floor when the store has the version test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h"})
		f.edit(t, "a")

		require.NoError(t, f.coordinator.RetireAll(ctx))
		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		assert.Equal(t, int64(0), record.VersionFloor)
	})

	t.Run("failed flush keeps the floor test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{
			FlushInterval:     "1h",
			RetryBaseInterval: "1ms",
			RetryMaxInterval:  "1h",
			MaxRetries:        1,
			BreakerFailures:   100,
		})
		f.store.failing.Store(true)
		f.edit(t, "a")

		assert.ErrorIs(t, f.coordinator.Retire(ctx, f.key), errStoreDown)
		assert.Equal(t, 1, f.group.PendingLen())
		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), record.VersionFloor)
	})
}

func TestCompaction(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot every interval deltas test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h", SnapshotInterval: 2})
		f.edit(t, "a")
		require.NoError(t, f.coordinator.Flush(ctx, f.key))

		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), record.SnapshotVersion)

		f.edit(t, "b")
		require.NoError(t, f.coordinator.Flush(ctx, f.key))

		record, err = f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), record.SnapshotVersion)
		assert.Empty(t, record.Deltas)

		replica, err := record.Replay(rga.Engine{})
		require.NoError(t, err)
		assert.Equal(t, "ab", replica.(*rga.Replica).String())
	})

	t.Run("compact due documents test", func(t *testing.T) {
		f := newFixture(t, &persistence.Config{FlushInterval: "1h", SnapshotPeriod: "200ms"})
		f.edit(t, "a")
		require.NoError(t, f.coordinator.Flush(ctx, f.key))

		compacted, err := f.coordinator.CompactDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, compacted)

		time.Sleep(250 * time.Millisecond)
		compacted, err = f.coordinator.CompactDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, compacted)

		record, err := f.store.Load(ctx, f.key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.SnapshotVersion)

		compacted, err = f.coordinator.CompactDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, compacted)
	})
}

// TestCrashAndReload confirms three appends, accepts one more delta that is
// never written and drops the process state. Replay must reproduce exactly
// the confirmed deltas.
func TestCrashAndReload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &persistence.Config{FlushInterval: "1h", FlushThreshold: 100})

	f.edit(t, "a")
	f.edit(t, "b")
	f.edit(t, "c")
	require.NoError(t, f.coordinator.Flush(ctx, f.key))
	f.edit(t, "d")

	record, err := f.coordinator.Load(ctx, f.key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), record.Version)

	replica, err := record.Replay(rga.Engine{})
	require.NoError(t, err)
	assert.Equal(t, "abc", replica.(*rga.Replica).String())
}
