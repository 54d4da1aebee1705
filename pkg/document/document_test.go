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


package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/automerge"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
)

func TestEngines(t *testing.T) {
	engines := document.NewEngines(rga.Engine{}, automerge.Engine{})

	t.Run("get engine test", func(t *testing.T) {
		e, err := engines.Get(rga.EngineName)
		require.NoError(t, err)
		assert.Equal(t, rga.EngineName, e.Name())

		_, err = engines.Get("ot")
		assert.ErrorIs(t, err, document.ErrUnknownEngine)
	})
}

func TestReplay(t *testing.T) {
	t.Run("replay snapshot and deltas test", func(t *testing.T) {
		origin := rga.NewReplica("s1")
		d1, err := origin.Insert(0, "ab")
		require.NoError(t, err)
		snapshot, err := origin.Encode()
		require.NoError(t, err)
		d2, err := origin.Insert(2, "c")
		require.NoError(t, err)

		replica, err := document.Replay(rga.Engine{}, snapshot, [][]byte{d2, d1})
		require.NoError(t, err)
		assert.Equal(t, "abc", replica.(*rga.Replica).String())
	})

	t.Run("replay invalid delta test", func(t *testing.T) {
		_, err := document.Replay(rga.Engine{}, nil, [][]byte{[]byte("{")})
		assert.ErrorIs(t, err, document.ErrInvalidDelta)
	})
}
