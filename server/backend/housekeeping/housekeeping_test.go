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

package housekeeping_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/server/backend/housekeeping"
)

func TestHousekeeping(t *testing.T) {
	t.Run("run registered tasks periodically test", func(t *testing.T) {
		h := housekeeping.New()
		var sweeps, failures atomic.Int32
		require.NoError(t, h.RegisterTask("sweep", 5*time.Millisecond, func(context.Context) (int, error) {
			sweeps.Add(1)
			return 1, nil
		}))
		require.NoError(t, h.RegisterTask("failing", 5*time.Millisecond, func(context.Context) (int, error) {
			failures.Add(1)
			return 0, errors.New("store down")
		}))
		require.NoError(t, h.Start())

		assert.Eventually(t, func() bool {
			return sweeps.Load() >= 3 && failures.Load() >= 3
		}, time.Second, time.Millisecond)
		require.NoError(t, h.Stop())

		stopped := sweeps.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, stopped, sweeps.Load())
	})

	t.Run("register after start test", func(t *testing.T) {
		h := housekeeping.New()
		require.NoError(t, h.Start())
		defer func() { assert.NoError(t, h.Stop()) }()

		err := h.RegisterTask("late", time.Second, func(context.Context) (int, error) { return 0, nil })
		assert.ErrorIs(t, err, housekeeping.ErrAlreadyStarted)
		assert.ErrorIs(t, h.Start(), housekeeping.ErrAlreadyStarted)
	})
}
