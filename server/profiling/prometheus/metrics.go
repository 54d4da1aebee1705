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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wavelet-team/wavelet/internal/version"
)

const (
	namespace      = "wavelet"
	taskTypeLabel  = "task_type"
	transportLabel = "transport"
	sourceLabel    = "source"
	reasonLabel    = "reason"
)

// Update sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Metrics manages the metric information that Wavelet is trying to measure.
// A nil Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec
	serverMetrics *grpcprometheus.ServerMetrics

	groupsResident    prometheus.Gauge
	groupLoadSeconds  prometheus.Histogram
	groupEvictedTotal prometheus.Counter

	sessionsActive          *prometheus.GaugeVec
	updatesAppliedTotal     *prometheus.CounterVec
	broadcastMessagesTotal  prometheus.Counter
	disconnectsTotal        *prometheus.CounterVec
	backpressureDisconnects prometheus.Counter
	sessionQueueWatermark   *prometheus.HistogramVec

	fanoutPublishedTotal prometheus.Counter
	fanoutReceivedTotal  prometheus.Counter
	fanoutDroppedTotal   prometheus.Counter
	fanoutGapsTotal      prometheus.Counter

	persistenceFlushSeconds      prometheus.Histogram
	persistenceFlushFailures     prometheus.Counter
	persistenceAppendedDeltas    prometheus.Counter
	persistenceSnapshotsTotal    prometheus.Counter
	persistenceDegradedDocuments prometheus.Gauge

	backgroundGoroutinesTotal *prometheus.GaugeVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	serverMetrics := grpcprometheus.NewServerMetrics()
	if err := reg.Register(serverMetrics); err != nil {
		return nil, fmt.Errorf("register grpc server metrics: %w", err)
	}

	metrics := &Metrics{
		registry:      reg,
		serverMetrics: serverMetrics,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		groupsResident: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "resident",
			Help:      "The number of synchronization groups resident in this process.",
		}),
		groupLoadSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "load_seconds",
			Help:      "The time taken to load a group from durable storage.",
		}),
		groupEvictedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "evicted_total",
			Help:      "The total number of groups evicted by the idle sweep.",
		}),
		sessionsActive: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "The number of connected sessions.",
		}, []string{transportLabel}),
		updatesAppliedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "updates_applied_total",
			Help:      "The total number of updates merged into groups.",
		}, []string{sourceLabel}),
		broadcastMessagesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "broadcast_messages_total",
			Help:      "The total number of messages enqueued to members.",
		}),
		disconnectsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "The total number of closed sessions by reason.",
		}, []string{reasonLabel}),
		backpressureDisconnects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "backpressure_disconnects_total",
			Help:      "The total number of members dropped because their outbound queue was full.",
		}),
		sessionQueueWatermark: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queue_watermark",
			Help:      "The highest outbound queue depth of a session, observed when it closes.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{transportLabel}),
		fanoutPublishedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "The total number of deltas published to the bus.",
		}),
		fanoutReceivedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "received_total",
			Help:      "The total number of deltas received from other processes.",
		}),
		fanoutDroppedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "The total number of deltas dropped because the publish queue was full.",
		}),
		fanoutGapsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "gaps_total",
			Help:      "The total number of sequence gaps that forced a reload from durable storage.",
		}),
		persistenceFlushSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flush_seconds",
			Help:      "The time taken by one durable write of pending deltas.",
		}),
		persistenceFlushFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flush_failures_total",
			Help:      "The total number of failed durable write attempts.",
		}),
		persistenceAppendedDeltas: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "appended_deltas_total",
			Help:      "The total number of deltas appended to durable storage.",
		}),
		persistenceSnapshotsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "snapshots_total",
			Help:      "The total number of snapshots written.",
		}),
		persistenceDegradedDocuments: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "degraded_documents",
			Help:      "The number of documents whose durable writes keep failing.",
		}),
		backgroundGoroutinesTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "goroutines_total",
			Help:      "The total number of goroutines attached by a particular background task.",
		}, []string{taskTypeLabel}),
	}

	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// ServerMetrics returns the gRPC server metrics.
func (m *Metrics) ServerMetrics() *grpcprometheus.ServerMetrics {
	if m == nil {
		return nil
	}
	return m.serverMetrics
}

// AddResidentGroup increases the number of resident groups.
func (m *Metrics) AddResidentGroup() {
	if m == nil {
		return
	}
	m.groupsResident.Inc()
}

// RemoveResidentGroup decreases the number of resident groups.
func (m *Metrics) RemoveResidentGroup() {
	if m == nil {
		return
	}
	m.groupsResident.Dec()
	m.groupEvictedTotal.Inc()
}

// ObserveGroupLoadSeconds adds an observation of a group load.
func (m *Metrics) ObserveGroupLoadSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.groupLoadSeconds.Observe(seconds)
}

// AddSession increases the number of sessions of the transport.
func (m *Metrics) AddSession(transport string) {
	if m == nil {
		return
	}
	m.sessionsActive.With(prometheus.Labels{transportLabel: transport}).Inc()
}

// RemoveSession decreases the number of sessions of the transport and counts
// the reason of the disconnect.
func (m *Metrics) RemoveSession(transport, reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.With(prometheus.Labels{transportLabel: transport}).Dec()
	m.disconnectsTotal.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

// ObserveSessionQueueWatermark adds the highest outbound queue depth of a
// closed session.
func (m *Metrics) ObserveSessionQueueWatermark(transport string, depth int64) {
	if m == nil {
		return
	}
	m.sessionQueueWatermark.With(prometheus.Labels{transportLabel: transport}).Observe(float64(depth))
}

// AddUpdateApplied counts an update merged into a group.
func (m *Metrics) AddUpdateApplied(source string) {
	if m == nil {
		return
	}
	m.updatesAppliedTotal.With(prometheus.Labels{sourceLabel: source}).Inc()
}

// AddBroadcastMessages counts messages enqueued to members.
func (m *Metrics) AddBroadcastMessages(count int) {
	if m == nil {
		return
	}
	m.broadcastMessagesTotal.Add(float64(count))
}

// AddBackpressureDisconnect counts a member dropped for a full queue.
func (m *Metrics) AddBackpressureDisconnect() {
	if m == nil {
		return
	}
	m.backpressureDisconnects.Inc()
}

// AddFanoutPublished counts a delta published to the bus.
func (m *Metrics) AddFanoutPublished() {
	if m == nil {
		return
	}
	m.fanoutPublishedTotal.Inc()
}

// AddFanoutReceived counts a delta received from another process.
func (m *Metrics) AddFanoutReceived() {
	if m == nil {
		return
	}
	m.fanoutReceivedTotal.Inc()
}

// AddFanoutDropped counts a delta dropped before publishing.
func (m *Metrics) AddFanoutDropped() {
	if m == nil {
		return
	}
	m.fanoutDroppedTotal.Inc()
}

// AddFanoutGap counts a detected sequence gap.
func (m *Metrics) AddFanoutGap() {
	if m == nil {
		return
	}
	m.fanoutGapsTotal.Inc()
}

// ObservePersistenceFlushSeconds adds an observation of a durable write.
func (m *Metrics) ObservePersistenceFlushSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.persistenceFlushSeconds.Observe(seconds)
}

// AddPersistenceFlushFailure counts a failed durable write attempt.
func (m *Metrics) AddPersistenceFlushFailure() {
	if m == nil {
		return
	}
	m.persistenceFlushFailures.Inc()
}

// AddPersistenceAppendedDeltas counts deltas appended to durable storage.
func (m *Metrics) AddPersistenceAppendedDeltas(count int) {
	if m == nil {
		return
	}
	m.persistenceAppendedDeltas.Add(float64(count))
}

// AddPersistenceSnapshot counts a written snapshot.
func (m *Metrics) AddPersistenceSnapshot() {
	if m == nil {
		return
	}
	m.persistenceSnapshotsTotal.Inc()
}

// SetPersistenceDegradedDocuments sets the number of degraded documents.
func (m *Metrics) SetPersistenceDegradedDocuments(count int) {
	if m == nil {
		return
	}
	m.persistenceDegradedDocuments.Set(float64(count))
}

// AddBackgroundGoroutines adds the number of goroutines attached by a
// particular background task.
func (m *Metrics) AddBackgroundGoroutines(taskType string) {
	if m == nil {
		return
	}
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Inc()
}

// RemoveBackgroundGoroutines removes the number of goroutines attached by a
// particular background task.
func (m *Metrics) RemoveBackgroundGoroutines(taskType string) {
	if m == nil {
		return
	}
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Dec()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
