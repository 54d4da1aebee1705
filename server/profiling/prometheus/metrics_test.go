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

package prometheus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

func TestMetrics(t *testing.T) {
	t.Run("gather registered metrics test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)

		metrics.AddResidentGroup()
		metrics.AddUpdateApplied(prometheus.SourceLocal)
		metrics.AddSession("websocket")
		metrics.RemoveSession("websocket", "normal")
		metrics.AddFanoutGap()
		metrics.ObserveSessionQueueWatermark("websocket", 3)

		families, err := metrics.Registry().Gather()
		require.NoError(t, err)

		names := make(map[string]bool)
		for _, family := range families {
			names[family.GetName()] = true
		}
		assert.True(t, names["wavelet_server_version"])
		assert.True(t, names["wavelet_group_resident"])
		assert.True(t, names["wavelet_group_updates_applied_total"])
		assert.True(t, names["wavelet_session_disconnects_total"])
		assert.True(t, names["wavelet_fanout_gaps_total"])
		assert.True(t, names["wavelet_session_queue_watermark"])
	})

	t.Run("nil metrics record nothing test", func(t *testing.T) {
		var metrics *prometheus.Metrics

		assert.NotPanics(t, func() {
			metrics.AddResidentGroup()
			metrics.RemoveResidentGroup()
			metrics.ObserveGroupLoadSeconds(0.1)
			metrics.AddSession("websocket")
			metrics.RemoveSession("websocket", "closed")
			metrics.ObserveSessionQueueWatermark("websocket", 1)
			metrics.AddUpdateApplied(prometheus.SourceRemote)
			metrics.AddBroadcastMessages(2)
			metrics.AddBackpressureDisconnect()
			metrics.AddFanoutPublished()
			metrics.AddFanoutReceived()
			metrics.AddFanoutDropped()
			metrics.AddFanoutGap()
			metrics.ObservePersistenceFlushSeconds(0.1)
			metrics.AddPersistenceFlushFailure()
			metrics.AddPersistenceAppendedDeltas(1)
			metrics.AddPersistenceSnapshot()
			metrics.SetPersistenceDegradedDocuments(0)
			metrics.AddBackgroundGoroutines("task")
			metrics.RemoveBackgroundGoroutines("task")
		})
		assert.Nil(t, metrics.Registry())
		assert.Nil(t, metrics.ServerMetrics())
	})
}
