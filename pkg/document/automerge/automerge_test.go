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

package automerge_test

import (
	"testing"

	am "github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/automerge"
)

func TestEngine(t *testing.T) {
	t.Run("apply incremental changes test", func(t *testing.T) {
		client := am.New()
		require.NoError(t, client.Path("title").Set("hello"))
		_, err := client.Commit("set title")
		require.NoError(t, err)
		delta := client.SaveIncremental()

		replica, err := automerge.Engine{}.New()
		require.NoError(t, err)
		require.NoError(t, replica.Apply(delta))
		require.NoError(t, replica.Apply(delta))

		assert.Equal(t, client.Heads(), replica.(*automerge.Replica).Heads())
	})

	t.Run("replay from snapshot test", func(t *testing.T) {
		client := am.New()
		require.NoError(t, client.Path("count").Set(1))
		_, err := client.Commit("first")
		require.NoError(t, err)
		snapshot := client.Save()

		require.NoError(t, client.Path("count").Set(2))
		_, err = client.Commit("second")
		require.NoError(t, err)
		delta := client.SaveIncremental()

		replica, err := document.Replay(automerge.Engine{}, snapshot, [][]byte{delta})
		require.NoError(t, err)
		assert.Equal(t, client.Heads(), replica.(*automerge.Replica).Heads())
	})

	t.Run("invalid input test", func(t *testing.T) {
		replica, err := automerge.Engine{}.Decode(nil)
		require.NoError(t, err)
		assert.ErrorIs(t, replica.Apply(nil), document.ErrInvalidDelta)

		_, err = automerge.Engine{}.Decode([]byte("not an automerge document"))
		assert.ErrorIs(t, err, document.ErrInvalidSnapshot)
	})
}
