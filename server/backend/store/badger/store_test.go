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

package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/backend/store/badger"
	"github.com/wavelet-team/wavelet/server/backend/store/testcases"
)

func TestStore(t *testing.T) {
	s, err := badger.Open(&badger.Config{InMemory: true})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, s.Close())
	}()

	testcases.RunAll(t, s)
}

func TestReopen(t *testing.T) {
	t.Run("deltas survive reopen test", func(t *testing.T) {
		ctx := context.Background()
		conf := &badger.Config{Path: t.TempDir()}
		k := key.New("tests", "reopen")

		s, err := badger.Open(conf)
		require.NoError(t, err)
		_, err = s.AppendDeltas(ctx, k, 0, []store.Delta{{Payload: []byte("a")}, {Payload: []byte("b")}})
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = badger.Open(conf)
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, s.Close())
		}()

		record, err := s.Load(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, int64(2), record.Version)
		require.Len(t, record.Deltas, 2)
		assert.Equal(t, "b", string(record.Deltas[1].Payload))
	})
}

func TestConfig(t *testing.T) {
	t.Run("validate test", func(t *testing.T) {
		assert.ErrorIs(t, (&badger.Config{}).Validate(), badger.ErrEmptyPath)
		assert.NoError(t, (&badger.Config{InMemory: true}).Validate())
		assert.NoError(t, (&badger.Config{Path: "/tmp/wavelet"}).Validate())
	})
}
