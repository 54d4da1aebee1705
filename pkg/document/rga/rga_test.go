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

package rga_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
)

func TestReplica(t *testing.T) {
	t.Run("local edit test", func(t *testing.T) {
		r := rga.NewReplica("s1")
		_, err := r.Insert(0, "helo")
		require.NoError(t, err)
		_, err = r.Insert(3, "l")
		require.NoError(t, err)
		assert.Equal(t, "hello", r.String())

		_, err = r.Delete(0, 1)
		require.NoError(t, err)
		assert.Equal(t, "ello", r.String())
		assert.Equal(t, 4, r.Len())

		_, err = r.Insert(10, "x")
		assert.ErrorIs(t, err, rga.ErrOutOfRange)
		_, err = r.Delete(3, 2)
		assert.ErrorIs(t, err, rga.ErrOutOfRange)
	})

	t.Run("concurrent insert at same position converges test", func(t *testing.T) {
		s1 := rga.NewReplica("s1")
		s2 := rga.NewReplica("s2")

		d1, err := s1.Insert(0, "A")
		require.NoError(t, err)
		d2, err := s2.Insert(0, "B")
		require.NoError(t, err)

		require.NoError(t, s1.Apply(d2))
		require.NoError(t, s2.Apply(d1))

		assert.Equal(t, s1.String(), s2.String())
		assert.Equal(t, "BA", s1.String())
	})

	t.Run("apply order independence test", func(t *testing.T) {
		origin := rga.NewReplica("s1")
		d1, _ := origin.Insert(0, "abc")
		d2, _ := origin.Delete(1, 1)
		d3, _ := origin.Insert(2, "Z")

		forward := rga.NewReplica("")
		for _, d := range [][]byte{d1, d2, d3} {
			require.NoError(t, forward.Apply(d))
		}

		backward := rga.NewReplica("")
		for _, d := range [][]byte{d3, d2, d1} {
			require.NoError(t, backward.Apply(d))
		}

		assert.Equal(t, origin.String(), forward.String())
		assert.Equal(t, origin.String(), backward.String())
		assert.Equal(t, 0, backward.PendingLen())
	})

	t.Run("duplicate apply is ignored test", func(t *testing.T) {
		origin := rga.NewReplica("s1")
		d, _ := origin.Insert(0, "hi")

		r := rga.NewReplica("")
		require.NoError(t, r.Apply(d))
		require.NoError(t, r.Apply(d))
		assert.Equal(t, "hi", r.String())
	})

	t.Run("invalid delta test", func(t *testing.T) {
		r := rga.NewReplica("")
		assert.ErrorIs(t, r.Apply([]byte("not json")), document.ErrInvalidDelta)
		assert.ErrorIs(t, r.Apply([]byte(`{"ops":[]}`)), document.ErrInvalidDelta)
		assert.ErrorIs(t, r.Apply([]byte(`{"ops":[{"k":"mv","id":{"c":1}}]}`)), document.ErrInvalidDelta)
		assert.ErrorIs(t, r.Apply([]byte(`{"ops":[{"k":"ins","id":{"c":1}}]}`)), document.ErrInvalidDelta)
	})
}

func TestEncode(t *testing.T) {
	t.Run("encode and decode keeps tombstones test", func(t *testing.T) {
		origin := rga.NewReplica("s1")
		_, _ = origin.Insert(0, "abc")
		_, _ = origin.Delete(1, 1)

		state, err := origin.Encode()
		require.NoError(t, err)

		decoded, err := rga.Decode(state, "s2")
		require.NoError(t, err)
		assert.Equal(t, "ac", decoded.String())

		// A later edit that refers to the deleted element still lands.
		d, err := origin.Insert(1, "X")
		require.NoError(t, err)
		require.NoError(t, decoded.Apply(d))
		assert.Equal(t, origin.String(), decoded.String())
	})

	t.Run("replay test", func(t *testing.T) {
		origin := rga.NewReplica("s1")
		d1, _ := origin.Insert(0, "hello")
		snapshot, err := origin.Encode()
		require.NoError(t, err)
		d2, _ := origin.Insert(5, " world")
		d3, _ := origin.Delete(0, 1)

		replica, err := document.Replay(rga.Engine{}, snapshot, [][]byte{d2, d3})
		require.NoError(t, err)
		encoded, err := replica.Encode()
		require.NoError(t, err)

		decoded, err := rga.Decode(encoded, "")
		require.NoError(t, err)
		assert.Equal(t, "ello world", decoded.String())

		// Replaying a delta that is already part of the snapshot is harmless.
		replica, err = document.Replay(rga.Engine{}, snapshot, [][]byte{d1, d2, d3})
		require.NoError(t, err)
		again, err := replica.Encode()
		require.NoError(t, err)
		assert.Equal(t, encoded, again)
	})

	t.Run("invalid snapshot test", func(t *testing.T) {
		_, err := rga.Engine{}.Decode([]byte("{"))
		assert.ErrorIs(t, err, document.ErrInvalidSnapshot)

		r, err := rga.Engine{}.Decode(nil)
		require.NoError(t, err)
		state, err := r.Encode()
		require.NoError(t, err)
		assert.NotEmpty(t, state)
	})
}
