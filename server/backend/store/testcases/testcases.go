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

// Package testcases contains testcases for stores. Every store
// implementation runs the same cases against itself.
package testcases

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend/store"
)

// RunAll runs every testcase against the given store.
func RunAll(t *testing.T, s store.Store) {
	RunLoadEmptyTest(t, s)
	RunAppendDeltasTest(t, s)
	RunVersionMismatchTest(t, s)
	RunConcurrentAppendTest(t, s)
	RunWriteSnapshotTest(t, s)
	RunReplayAfterCrashTest(t, s)
	RunIsolationTest(t, s)
	RunVersionFloorTest(t, s)
}

func docKey(t *testing.T, suffix string) key.Key {
	return key.New("tests", fmt.Sprintf("%s-%s", sanitize(t.Name()), suffix))
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) > 100 {
		out = out[len(out)-100:]
	}
	return string(out)
}

func deltas(payloads ...string) []store.Delta {
	result := make([]store.Delta, len(payloads))
	for i, p := range payloads {
		result[i] = store.Delta{Payload: []byte(p), Origin: "s1"}
	}
	return result
}

// RunLoadEmptyTest runs the Load test for a document never written.
func RunLoadEmptyTest(t *testing.T, s store.Store) {
	t.Run("load empty document test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "empty")

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), record.Version)
		assert.Equal(t, int64(0), record.SnapshotVersion)
		assert.Empty(t, record.Snapshot)
		assert.Empty(t, record.Deltas)

		version, err := s.Version(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
	})
}

// RunAppendDeltasTest runs the AppendDeltas test.
func RunAppendDeltasTest(t *testing.T, s store.Store) {
	t.Run("append deltas test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "append")

		version, err := s.AppendDeltas(ctx, k, 0, deltas("a", "b"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)

		version, err = s.AppendDeltas(ctx, k, 2, deltas("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(3), record.Version)
		require.Len(t, record.Deltas, 3)
		for i, want := range []string{"a", "b", "c"} {
			assert.Equal(t, int64(i+1), record.Deltas[i].Version)
			assert.Equal(t, want, string(record.Deltas[i].Payload))
			assert.Equal(t, "s1", record.Deltas[i].Origin)
		}
	})
}

// RunVersionMismatchTest runs the compare-and-swap test of AppendDeltas.
func RunVersionMismatchTest(t *testing.T, s store.Store) {
	t.Run("append with stale base test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "cas")

		_, err := s.AppendDeltas(ctx, k, 0, deltas("a"))
		require.NoError(t, err)

		_, err = s.AppendDeltas(ctx, k, 0, deltas("b"))
		assert.ErrorIs(t, err, store.ErrVersionMismatch)

		_, err = s.AppendDeltas(ctx, k, 5, deltas("b"))
		assert.ErrorIs(t, err, store.ErrVersionMismatch)

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		assert.Len(t, record.Deltas, 1)
	})
}

// RunConcurrentAppendTest runs AppendDeltas from many writers with the same
// base. Exactly one wins.
func RunConcurrentAppendTest(t *testing.T, s store.Store) {
	t.Run("concurrent append test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "concurrent")

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendDeltas(ctx, k, 0, deltas(fmt.Sprintf("w%d", i)))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		assert.Len(t, record.Deltas, 1)
	})
}

// RunWriteSnapshotTest runs the WriteSnapshot test.
func RunWriteSnapshotTest(t *testing.T, s store.Store) {
	t.Run("write snapshot test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "snapshot")

		_, err := s.AppendDeltas(ctx, k, 0, deltas("a", "b", "c"))
		require.NoError(t, err)

		require.NoError(t, s.WriteSnapshot(ctx, k, 2, []byte("state@2")))

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(2), record.SnapshotVersion)
		assert.Equal(t, "state@2", string(record.Snapshot))
		assert.False(t, record.CheckpointTime.IsZero())
		assert.Equal(t, int64(3), record.Version)
		require.Len(t, record.Deltas, 1)
		assert.Equal(t, int64(3), record.Deltas[0].Version)

		err = s.WriteSnapshot(ctx, k, 1, []byte("state@1"))
		assert.ErrorIs(t, err, store.ErrStaleSnapshot)

		_, err = s.AppendDeltas(ctx, k, 3, deltas("d"))
		require.NoError(t, err)
		require.NoError(t, s.WriteSnapshot(ctx, k, 4, []byte("state@4")))

		record, err = s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(4), record.SnapshotVersion)
		assert.Equal(t, int64(4), record.Version)
		assert.Empty(t, record.Deltas)

		version, err := s.Version(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(4), version)
	})
}

// RunReplayAfterCrashTest appends three confirmed deltas, drops every
// in-memory replica and checks that replay reproduces the exact state.
func RunReplayAfterCrashTest(t *testing.T, s store.Store) {
	t.Run("replay confirmed appends after crash test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "crash")

		writer := rga.NewReplica("s1")
		var written []store.Delta
		for i, text := range []string{"a", "b", "c"} {
			delta, err := writer.Insert(i, text)
			require.NoError(t, err)
			written = append(written, store.Delta{Payload: delta, Origin: "s1"})
		}
		version, err := s.AppendDeltas(ctx, k, 0, written)
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		replica, err := record.Replay(rga.Engine{})
		require.NoError(t, err)

		require.IsType(t, &rga.Replica{}, replica)
		assert.Equal(t, "abc", writer.String())
		assert.Equal(t, writer.String(), replica.(*rga.Replica).String())
	})
}

// RunIsolationTest checks that documents do not share versions or deltas.
func RunIsolationTest(t *testing.T, s store.Store) {
	t.Run("documents are isolated test", func(t *testing.T) {
		ctx := context.Background()
		k1 := docKey(t, "one")
		k2 := docKey(t, "two")

		_, err := s.AppendDeltas(ctx, k1, 0, deltas("a", "b"))
		require.NoError(t, err)
		_, err = s.AppendDeltas(ctx, k2, 0, deltas("x"))
		require.NoError(t, err)
		require.NoError(t, s.WriteSnapshot(ctx, k1, 2, []byte("one@2")))

		record, err := s.Load(ctx, k2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record.Version)
		assert.Empty(t, record.Snapshot)
		require.Len(t, record.Deltas, 1)
		assert.Equal(t, "x", string(record.Deltas[0].Payload))
	})
}

// RunVersionFloorTest runs the RaiseVersionFloor test. The floor only moves up
// and does not touch the recorded version.
func RunVersionFloorTest(t *testing.T, s store.Store) {
	t.Run("raise version floor test", func(t *testing.T) {
		ctx := context.Background()
		k := docKey(t, "floor")

		_, err := s.AppendDeltas(ctx, k, 0, deltas("a", "b"))
		require.NoError(t, err)

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(0), record.VersionFloor)
		assert.Equal(t, int64(2), record.StartVersion())

		require.NoError(t, s.RaiseVersionFloor(ctx, k, 5))
		require.NoError(t, s.RaiseVersionFloor(ctx, k, 3))

		record, err = s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(5), record.VersionFloor)
		assert.Equal(t, int64(2), record.Version)
		assert.Equal(t, int64(5), record.StartVersion())

		version, err := s.AppendDeltas(ctx, k, 2, deltas("c"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		other, err := s.Load(ctx, docKey(t, "other"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), other.VersionFloor)
	})
}
