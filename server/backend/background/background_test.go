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

package background_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/server/backend/background"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

func TestBackground(t *testing.T) {
	t.Run("close waits for attached goroutines test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)
		bg := background.New(metrics)

		var exited int32
		for i := 0; i < 5; i++ {
			ok := bg.AttachGoroutine(func(ctx context.Context) {
				<-ctx.Done()
				atomic.AddInt32(&exited, 1)
			}, "test")
			assert.True(t, ok)
		}

		bg.Close()
		assert.Equal(t, int32(5), atomic.LoadInt32(&exited))
	})

	t.Run("attach after close is skipped test", func(t *testing.T) {
		bg := background.New(nil)
		bg.Close()

		ran := false
		assert.False(t, bg.AttachGoroutine(func(ctx context.Context) { ran = true }, "test"))
		assert.False(t, ran)
	})
}
