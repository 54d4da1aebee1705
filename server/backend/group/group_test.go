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

package group_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

type fakeMember struct {
	id       string
	capacity int

	mu           sync.Mutex
	messages     []group.Message
	disconnected error
}

func newMember(id string, capacity int) *fakeMember {
	return &fakeMember{id: id, capacity: capacity}
}

func (m *fakeMember) ID() string   { return m.id }
func (m *fakeMember) User() string { return "user-" + m.id }

func (m *fakeMember) Send(msg group.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && len(m.messages) >= m.capacity {
		return false
	}
	m.messages = append(m.messages, msg)
	return true
}

func (m *fakeMember) Disconnect(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = reason
}

func (m *fakeMember) received() []group.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]group.Message(nil), m.messages...)
}

func (m *fakeMember) reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []*fanout.Envelope
}

func (p *fakePublisher) Enqueue(env *fanout.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return true
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []int
}

func (n *fakeNotifier) Notify(_ key.Key, pending int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pending)
}

type fixture struct {
	group     *group.Group
	publisher *fakePublisher
	notifier  *fakeNotifier
	now       time.Time
}

func newGroup(t *testing.T, record *store.Record) *fixture {
	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)

	f := &fixture{
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		now:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if record == nil {
		record = &store.Record{Key: key.New("acme", "doc")}
	}
	f.group, err = group.New(rga.Engine{}, record, group.Options{
		ProcessID: "process-a",
		Publisher: f.publisher,
		Notifier:  f.notifier,
		Metrics:   metrics,
		Now:       func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func insert(t *testing.T, r *rga.Replica, pos int, text string) []byte {
	delta, err := r.Insert(pos, text)
	require.NoError(t, err)
	return delta
}

func TestAdmit(t *testing.T) {
	t.Run("snapshot is the first message test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice := newMember("alice", 0)

		require.NoError(t, f.group.Admit(alice, access.AllowWrite))
		messages := alice.received()
		require.Len(t, messages, 1)
		assert.Equal(t, group.TypeSnapshot, messages[0].Type)
		assert.Equal(t, int64(0), messages[0].Version)
	})

	t.Run("denied member is refused test", func(t *testing.T) {
		f := newGroup(t, nil)
		mallory := newMember("mallory", 0)

		assert.ErrorIs(t, f.group.Admit(mallory, access.Deny), group.ErrAccessDenied)
		assert.Empty(t, mallory.received())
		assert.Equal(t, 0, f.group.Stats().Members)
	})

	t.Run("rejoin receives a fresh snapshot test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice := newMember("alice", 0)
		writer := rga.NewReplica("alice")

		require.NoError(t, f.group.Admit(alice, access.AllowWrite))
		_, err := f.group.Apply(context.Background(), group.Update{Payload: insert(t, writer, 0, "x"), Origin: "alice"})
		require.NoError(t, err)

		require.NoError(t, f.group.Admit(alice, access.AllowWrite))
		messages := alice.received()
		last := messages[len(messages)-1]
		assert.Equal(t, group.TypeSnapshot, last.Type)
		assert.Equal(t, int64(1), last.Version)

		replica, err := rga.Decode(last.Payload, "alice")
		require.NoError(t, err)
		assert.Equal(t, "x", replica.String())
		assert.Equal(t, 1, f.group.Stats().Members)
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcast to others and ack origin test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice, bob := newMember("alice", 0), newMember("bob", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))
		require.NoError(t, f.group.Admit(bob, access.AllowWrite))

		writer := rga.NewReplica("alice")
		delta := insert(t, writer, 0, "hi")
		version, err := f.group.Apply(ctx, group.Update{Payload: delta, Origin: "alice", ClientClock: 7})
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		aliceMessages := alice.received()
		require.Len(t, aliceMessages, 2)
		assert.Equal(t, group.TypeAck, aliceMessages[1].Type)
		assert.Equal(t, int64(1), aliceMessages[1].Version)
		assert.Equal(t, int64(7), aliceMessages[1].ClientClock)

		bobMessages := bob.received()
		require.Len(t, bobMessages, 2)
		assert.Equal(t, group.TypeDelta, bobMessages[1].Type)
		assert.Equal(t, delta, bobMessages[1].Payload)

		pending := f.group.PendingWrites()
		require.Len(t, pending, 1)
		assert.Equal(t, "alice", pending[0].Origin)
		assert.Equal(t, []int{1}, f.notifier.calls)

		require.Len(t, f.publisher.envs, 1)
		assert.Equal(t, uint64(1), f.publisher.envs[0].Seq)
		assert.Equal(t, "process-a", f.publisher.envs[0].Origin)
	})

	t.Run("read only member cannot update test", func(t *testing.T) {
		f := newGroup(t, nil)
		viewer := newMember("viewer", 0)
		require.NoError(t, f.group.Admit(viewer, access.AllowRead))

		_, err := f.group.Apply(ctx, group.Update{Payload: insert(t, rga.NewReplica("viewer"), 0, "x"), Origin: "viewer"})
		assert.ErrorIs(t, err, group.ErrReadOnly)
		assert.Equal(t, int64(0), f.group.Version())
		assert.Equal(t, 1, f.group.Stats().ReadOnly)
	})

	t.Run("non member and invalid delta test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))

		_, err := f.group.Apply(ctx, group.Update{Payload: []byte(`{"ops":[]}`), Origin: "ghost"})
		assert.ErrorIs(t, err, group.ErrNotMember)

		_, err = f.group.Apply(ctx, group.Update{Payload: []byte(`not json`), Origin: "alice"})
		assert.ErrorIs(t, err, group.ErrInvalidUpdate)
		assert.Equal(t, int64(0), f.group.Version())
	})

	t.Run("monotonic version under concurrent updates test", func(t *testing.T) {
		f := newGroup(t, nil)
		const writers, perWriter = 8, 25

		for i := 0; i < writers; i++ {
			require.NoError(t, f.group.Admit(newMember(fmt.Sprintf("w%d", i), 0), access.AllowWrite))
		}
		observer := newMember("observer", 0)
		require.NoError(t, f.group.Admit(observer, access.AllowRead))

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("w%d", i)
				replica := rga.NewReplica(id)
				for j := 0; j < perWriter; j++ {
					delta, err := replica.Insert(replica.Len(), "x")
					assert.NoError(t, err)
					_, err = f.group.Apply(ctx, group.Update{Payload: delta, Origin: id})
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(writers*perWriter), f.group.Version())
		assert.Equal(t, writers*perWriter, f.group.PendingLen())

		var last int64
		for _, msg := range observer.received()[1:] {
			assert.Greater(t, msg.Version, last)
			last = msg.Version
		}
		assert.Equal(t, int64(writers*perWriter), last)
	})
}

func TestWithoutMetrics(t *testing.T) {
	t.Run("group without metrics test", func(t *testing.T) {
		ctx := context.Background()
		g, err := group.New(rga.Engine{}, &store.Record{Key: key.New("acme", "doc")}, group.Options{ProcessID: "p"})
		require.NoError(t, err)

		slow, fast := newMember("slow", 1), newMember("fast", 0)
		require.NoError(t, g.Admit(slow, access.AllowRead))
		require.NoError(t, g.Admit(fast, access.AllowWrite))

		_, err = g.Apply(ctx, group.Update{Payload: insert(t, rga.NewReplica("fast"), 0, "x"), Origin: "fast"})
		require.NoError(t, err)
		assert.ErrorIs(t, slow.reason(), group.ErrBackpressureDisconnect)

		require.NoError(t, g.ApplyRemote(ctx, &fanout.Envelope{
			Key:     g.Key(),
			Origin:  "q",
			Seq:     1,
			Payload: insert(t, rga.NewReplica("q"), 0, "y"),
		}))
		assert.Equal(t, int64(2), g.Version())
	})
}

// TestConcurrentInsertAtStart runs two clients inserting at position 0 of an
// empty document at the same time. Both must end with the same text.
func TestConcurrentInsertAtStart(t *testing.T) {
	ctx := context.Background()
	f := newGroup(t, nil)
	s1, s2 := newMember("s1", 0), newMember("s2", 0)
	require.NoError(t, f.group.Admit(s1, access.AllowWrite))
	require.NoError(t, f.group.Admit(s2, access.AllowWrite))

	r1, r2 := rga.NewReplica("s1"), rga.NewReplica("s2")
	d1 := insert(t, r1, 0, "A")
	d2 := insert(t, r2, 0, "B")

	_, err := f.group.Apply(ctx, group.Update{Payload: d1, Origin: "s1"})
	require.NoError(t, err)
	_, err = f.group.Apply(ctx, group.Update{Payload: d2, Origin: "s2"})
	require.NoError(t, err)

	apply := func(r *rga.Replica, m *fakeMember) {
		for _, msg := range m.received() {
			if msg.Type == group.TypeDelta {
				require.NoError(t, r.Apply(msg.Payload))
			}
		}
	}
	apply(r1, s1)
	apply(r2, s2)

	_, snapshot, err := f.group.Snapshot()
	require.NoError(t, err)
	server, err := rga.Decode(snapshot, "")
	require.NoError(t, err)

	assert.Equal(t, "BA", server.String())
	assert.Equal(t, server.String(), r1.String())
	assert.Equal(t, server.String(), r2.String())
}

func TestBackpressure(t *testing.T) {
	t.Run("slow member is disconnected without blocking others test", func(t *testing.T) {
		ctx := context.Background()
		f := newGroup(t, nil)
		slow := newMember("slow", 1)
		fast := newMember("fast", 0)
		writer := newMember("writer", 0)
		require.NoError(t, f.group.Admit(slow, access.AllowRead))
		require.NoError(t, f.group.Admit(fast, access.AllowRead))
		require.NoError(t, f.group.Admit(writer, access.AllowWrite))

		replica := rga.NewReplica("writer")
		for i := 0; i < 3; i++ {
			_, err := f.group.Apply(ctx, group.Update{Payload: insert(t, replica, i, "x"), Origin: "writer"})
			require.NoError(t, err)
		}

		assert.ErrorIs(t, slow.reason(), group.ErrBackpressureDisconnect)
		assert.Len(t, slow.received(), 1)
		assert.Len(t, fast.received(), 4)
		assert.Equal(t, 2, f.group.Stats().Members)
		assert.Equal(t, int64(3), f.group.Version())
	})

	t.Run("full queue at admission refuses the member test", func(t *testing.T) {
		f := newGroup(t, nil)
		full := newMember("full", 1)
		require.True(t, full.Send(group.Message{}))

		assert.ErrorIs(t, f.group.Admit(full, access.AllowWrite), group.ErrBackpressureDisconnect)
		assert.Equal(t, 0, f.group.Stats().Members)
	})
}

func TestApplyRemote(t *testing.T) {
	ctx := context.Background()
	k := key.New("acme", "doc")
	remote := rga.NewReplica("remote")
	envelope := func(seq uint64, text string) *fanout.Envelope {
		return &fanout.Envelope{
			Key:     k,
			Origin:  "process-b",
			Seq:     seq,
			Payload: insert(t, remote, remote.Len(), text),
		}
	}

	t.Run("sequence checks test", func(t *testing.T) {
		f := newGroup(t, nil)
		viewer := newMember("viewer", 0)
		require.NoError(t, f.group.Admit(viewer, access.AllowRead))

		require.NoError(t, f.group.ApplyRemote(ctx, envelope(1, "a")))
		require.NoError(t, f.group.ApplyRemote(ctx, envelope(2, "b")))

		duplicate := envelope(2, "ignored")
		require.NoError(t, f.group.ApplyRemote(ctx, duplicate))
		assert.Equal(t, int64(2), f.group.Version())

		own := &fanout.Envelope{Key: k, Origin: "process-a", Seq: 1, Payload: []byte(`{"ops":[]}`)}
		require.NoError(t, f.group.ApplyRemote(ctx, own))

		assert.Equal(t, int64(2), f.group.Version())
		assert.Equal(t, 0, f.group.PendingLen())
		assert.Empty(t, f.publisher.envs)
		assert.Len(t, viewer.received(), 3)
	})

	t.Run("envelope after a gap is not applied test", func(t *testing.T) {
		f := newGroup(t, nil)
		viewer := newMember("viewer", 0)
		require.NoError(t, f.group.Admit(viewer, access.AllowRead))

		peer := rga.NewReplica("peer")
		payloads := make([][]byte, 4)
		for i, text := range []string{"a", "b", "c", "d"} {
			payloads[i] = insert(t, peer, i, text)
		}
		env := func(seq uint64) *fanout.Envelope {
			return &fanout.Envelope{Key: k, Origin: "process-b", Seq: seq, Payload: payloads[seq-1]}
		}

		require.NoError(t, f.group.ApplyRemote(ctx, env(1)))
		assert.ErrorIs(t, f.group.ApplyRemote(ctx, env(3)), group.ErrFanoutGap)
		assert.ErrorIs(t, f.group.ApplyRemote(ctx, env(4)), group.ErrFanoutGap)
		assert.Equal(t, int64(1), f.group.Version())
		assert.Len(t, viewer.received(), 2)

		require.NoError(t, f.group.Reload(ctx, &store.Record{
			Key:     k,
			Version: 3,
			Deltas: []store.Delta{
				{Version: 1, Payload: payloads[0]},
				{Version: 2, Payload: payloads[1]},
				{Version: 3, Payload: payloads[2]},
			},
		}))
		assert.Equal(t, int64(3), f.group.Version())

		assert.ErrorIs(t, f.group.ApplyRemote(ctx, env(4)), group.ErrFanoutCatchUp)
		assert.Equal(t, int64(4), f.group.Version())

		_, blob, err := f.group.Snapshot()
		require.NoError(t, err)
		replica, err := rga.Decode(blob, "")
		require.NoError(t, err)
		assert.Equal(t, "abcd", replica.String())
		assert.Len(t, viewer.received(), 4)
	})

	t.Run("first contact after start test", func(t *testing.T) {
		f := newGroup(t, nil)
		err := f.group.ApplyRemote(ctx, envelope(9, "z"))
		assert.ErrorIs(t, err, group.ErrFanoutCatchUp)
		assert.Equal(t, int64(1), f.group.Version())
		require.NoError(t, f.group.ApplyRemote(ctx, envelope(10, "y")))
	})
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	k := key.New("acme", "doc")

	t.Run("merge durable deltas into current state test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k})
		viewer := newMember("viewer", 0)
		require.NoError(t, f.group.Admit(viewer, access.AllowRead))

		other := rga.NewReplica("other")
		record := &store.Record{
			Key:     k,
			Version: 2,
			Deltas: []store.Delta{
				{Version: 1, Payload: insert(t, other, 0, "a")},
				{Version: 2, Payload: insert(t, other, 1, "b")},
			},
		}
		require.NoError(t, f.group.Reload(ctx, record))
		assert.Equal(t, int64(2), f.group.Version())

		messages := viewer.received()
		last := messages[len(messages)-1]
		assert.Equal(t, group.TypeSnapshot, last.Type)
		replica, err := rga.Decode(last.Payload, "")
		require.NoError(t, err)
		assert.Equal(t, "ab", replica.String())
	})

	t.Run("rebuild from newer snapshot keeps pending writes test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k})
		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))

		local := rga.NewReplica("alice")
		_, err := f.group.Apply(ctx, group.Update{Payload: insert(t, local, 0, "L"), Origin: "alice"})
		require.NoError(t, err)

		other := rga.NewReplica("other")
		insert(t, other, 0, "S")
		snapshot, err := other.Encode()
		require.NoError(t, err)

		require.NoError(t, f.group.Reload(ctx, &store.Record{
			Key:             k,
			SnapshotVersion: 5,
			Snapshot:        snapshot,
			Version:         5,
		}))

		version, blob, err := f.group.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, int64(5), version)
		replica, err := rga.Decode(blob, "")
		require.NoError(t, err)
		assert.Contains(t, replica.String(), "L")
		assert.Contains(t, replica.String(), "S")
		assert.Equal(t, 1, f.group.PendingLen())
	})

	t.Run("rebuild from newer snapshot keeps remote deltas test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k})
		peer := rga.NewReplica("peer")
		require.NoError(t, f.group.ApplyRemote(ctx, &fanout.Envelope{
			Key:     k,
			Origin:  "process-b",
			Seq:     1,
			Payload: insert(t, peer, 0, "x"),
		}))

		other := rga.NewReplica("other")
		insert(t, other, 0, "y")
		snapshot, err := other.Encode()
		require.NoError(t, err)

		require.NoError(t, f.group.Reload(ctx, &store.Record{
			Key:             k,
			SnapshotVersion: 4,
			Snapshot:        snapshot,
			Version:         4,
		}))

		_, blob, err := f.group.Snapshot()
		require.NoError(t, err)
		replica, err := rga.Decode(blob, "")
		require.NoError(t, err)
		assert.Contains(t, replica.String(), "x")
		assert.Contains(t, replica.String(), "y")
		assert.Equal(t, int64(4), f.group.Version())
	})

	t.Run("remote deltas covered by a record are released test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k})
		peer := rga.NewReplica("peer")
		payload := insert(t, peer, 0, "x")
		require.NoError(t, f.group.ApplyRemote(ctx, &fanout.Envelope{
			Key:     k,
			Origin:  "process-b",
			Seq:     1,
			Payload: payload,
		}))
		require.NoError(t, f.group.Reload(ctx, &store.Record{
			Key:     k,
			Version: 1,
			Deltas:  []store.Delta{{Version: 1, Payload: payload}},
		}))

		other := rga.NewReplica("other")
		insert(t, other, 0, "y")
		snapshot, err := other.Encode()
		require.NoError(t, err)
		require.NoError(t, f.group.Reload(ctx, &store.Record{
			Key:             k,
			SnapshotVersion: 2,
			Snapshot:        snapshot,
			Version:         2,
		}))

		_, blob, err := f.group.Snapshot()
		require.NoError(t, err)
		replica, err := rga.Decode(blob, "")
		require.NoError(t, err)
		assert.Equal(t, "y", replica.String())
	})

	t.Run("version never decreases test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k, Version: 10})
		require.NoError(t, f.group.Reload(ctx, &store.Record{Key: k, Version: 3}))
		assert.Equal(t, int64(10), f.group.Version())

		require.NoError(t, f.group.Reload(ctx, &store.Record{Key: k, Version: 12}))
		assert.Equal(t, int64(12), f.group.Version())
	})

	t.Run("start at the floor of a previous group test", func(t *testing.T) {
		f := newGroup(t, &store.Record{Key: k, Version: 3, VersionFloor: 4})
		assert.Equal(t, int64(4), f.group.Version())

		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))
		assert.Equal(t, int64(4), alice.received()[0].Version)

		version, err := f.group.Apply(ctx, group.Update{Payload: insert(t, rga.NewReplica("alice"), 0, "x"), Origin: "alice"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), version)

		require.NoError(t, f.group.Reload(ctx, &store.Record{Key: k, Version: 3, VersionFloor: 7}))
		assert.Equal(t, int64(7), f.group.Version())
	})
}

func TestEviction(t *testing.T) {
	t.Run("idle empty group is evictable test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))

		later := f.now.Add(time.Hour)
		assert.False(t, f.group.BeginEviction(later, time.Minute))

		assert.True(t, f.group.Remove("alice"))
		assert.False(t, f.group.BeginEviction(f.now.Add(time.Second), time.Minute))
		assert.True(t, f.group.BeginEviction(later, time.Minute))

		assert.ErrorIs(t, f.group.Admit(alice, access.AllowWrite), group.ErrGroupEvicting)

		f.group.AbortEviction()
		assert.NoError(t, f.group.Admit(alice, access.AllowWrite))
	})

	t.Run("close disconnects members test", func(t *testing.T) {
		f := newGroup(t, nil)
		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))

		f.group.Close(group.ErrGroupClosed)
		assert.ErrorIs(t, alice.reason(), group.ErrGroupClosed)
		assert.ErrorIs(t, f.group.Admit(alice, access.AllowWrite), group.ErrGroupClosed)
	})
}

func TestConfirm(t *testing.T) {
	t.Run("trim confirmed writes only test", func(t *testing.T) {
		ctx := context.Background()
		f := newGroup(t, nil)
		alice := newMember("alice", 0)
		require.NoError(t, f.group.Admit(alice, access.AllowWrite))

		replica := rga.NewReplica("alice")
		for i := 0; i < 3; i++ {
			_, err := f.group.Apply(ctx, group.Update{Payload: insert(t, replica, i, "x"), Origin: "alice"})
			require.NoError(t, err)
		}

		f.group.Confirm(2)
		pending := f.group.PendingWrites()
		require.Len(t, pending, 1)
		assert.Equal(t, int64(3), pending[0].Version)

		f.group.Confirm(10)
		assert.Equal(t, 0, f.group.PendingLen())
	})
}
