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

// Package persistence writes the deltas accepted by groups to durable storage
// off the edit path, and compacts the append log into snapshots.
//
// Deltas accepted but not yet confirmed by an append are lost if the process
// crashes. Confirmed appends replay to the exact state.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wavelet-team/wavelet/pkg/backoff"
	"github.com/wavelet-team/wavelet/pkg/cmap"
	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/background"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// maxConflictRetries bounds how often one attempt rebases on a newer store
// version written by another process.
const maxConflictRetries = 8

// flushAllConcurrency bounds the concurrent flushes at shutdown.
const flushAllConcurrency = 16

var (
	// ErrPersistenceDegraded is reported when the flushes of a document keep
	// failing.
	ErrPersistenceDegraded = errors.New("persistence degraded")

	// ErrNotTracked is returned for a document the coordinator does not know.
	ErrNotTracked = errors.New("document not tracked")
)

// Reporter is told when the durability of a document degrades or recovers.
type Reporter interface {
	OnDegraded(k key.Key, err error)
	OnRecovered(k key.Key)
}

type tracked struct {
	group *group.Group

	// flushMu serializes flushes and compactions of the document.
	flushMu       sync.Mutex
	storeVersion  int64
	sinceSnapshot int
	lastSnapshot  time.Time
	failures      int

	// timerMu guards the scheduling state.
	timerMu     sync.Mutex
	timer       *time.Timer
	flushQueued bool
	untracked   bool
}

// Coordinator schedules durable writes of the pending deltas of groups.
type Coordinator struct {
	conf       *Config
	store      store.Store
	engine     document.Engine
	background *background.Background
	metrics    *prometheus.Metrics
	breaker    *gobreaker.CircuitBreaker[int64]

	reporterMu sync.RWMutex
	reporter   Reporter

	docs *cmap.Map[string, *tracked]
}

// New creates a coordinator.
func New(
	conf *Config,
	st store.Store,
	engine document.Engine,
	bg *background.Background,
	metrics *prometheus.Metrics,
) *Coordinator {
	breaker := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:    "store",
		Timeout: conf.ParseBreakerTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrVersionMismatch)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.DefaultLogger().Warnf("PERS: breaker %s changed from %s to %s", name, from, to)
		},
	})

	return &Coordinator{
		conf:       conf,
		store:      st,
		engine:     engine,
		background: bg,
		metrics:    metrics,
		breaker:    breaker,
		docs:       cmap.New[string, *tracked](),
	}
}

// SetReporter sets the reporter of degraded documents.
func (c *Coordinator) SetReporter(r Reporter) {
	c.reporterMu.Lock()
	defer c.reporterMu.Unlock()

	c.reporter = r
}

// Load returns the latest snapshot of the document and the deltas after it.
func (c *Coordinator) Load(ctx context.Context, k key.Key) (*store.Record, error) {
	return c.store.Load(ctx, k)
}

// Track starts scheduling writes of the group. storeVersion is the store
// version the group was loaded at and sinceSnapshot the number of deltas
// recorded after the latest snapshot.
func (c *Coordinator) Track(g *group.Group, storeVersion int64, sinceSnapshot int) {
	c.docs.Set(g.Key().CombinedKey(), &tracked{
		group:         g,
		storeVersion:  storeVersion,
		sinceSnapshot: sinceSnapshot,
		lastSnapshot:  time.Now(),
	})
}

// Untrack stops scheduling writes of the document.
func (c *Coordinator) Untrack(k key.Key) {
	t, ok := c.docs.Get(k.CombinedKey())
	if !ok {
		return
	}

	t.timerMu.Lock()
	t.untracked = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerMu.Unlock()

	c.docs.Delete(k.CombinedKey(), func(v *tracked) bool { return v == t })
}

// Notify schedules a write after a local update. Reaching the flush
// threshold writes at once, otherwise the write happens within the flush
// interval.
func (c *Coordinator) Notify(k key.Key, pending int) {
	t, ok := c.docs.Get(k.CombinedKey())
	if !ok {
		return
	}

	t.timerMu.Lock()
	defer t.timerMu.Unlock()
	if t.untracked {
		return
	}

	if pending >= c.conf.FlushThreshold {
		if t.flushQueued {
			return
		}
		t.flushQueued = true
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		c.flushAsync(k)
		return
	}

	if t.timer == nil && !t.flushQueued {
		t.timer = time.AfterFunc(c.conf.ParseFlushInterval(), func() {
			c.flushAsync(k)
		})
	}
}

// arm schedules a write after the given delay unless one is scheduled.
func (c *Coordinator) arm(k key.Key, t *tracked, delay time.Duration) {
	t.timerMu.Lock()
	defer t.timerMu.Unlock()

	if t.untracked || t.timer != nil || t.flushQueued {
		return
	}
	t.timer = time.AfterFunc(delay, func() {
		c.flushAsync(k)
	})
}

func (c *Coordinator) flushAsync(k key.Key) {
	c.background.AttachGoroutine(func(ctx context.Context) {
		if err := c.Flush(ctx, k); err != nil && !errors.Is(err, ErrNotTracked) {
			logging.From(ctx).Warnf("PERS: flush %s: %v", k, err)
		}
	}, "persistence-flush")
}

// Flush appends the pending writes of the document and waits for the
// result. The pending writes are trimmed only after the append is confirmed.
func (c *Coordinator) Flush(ctx context.Context, k key.Key) error {
	t, ok := c.docs.Get(k.CombinedKey())
	if !ok {
		return fmt.Errorf("flush %s: %w", k, ErrNotTracked)
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.timerMu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.flushQueued = false
	t.timerMu.Unlock()

	pending := t.group.PendingWrites()
	if len(pending) == 0 {
		return nil
	}

	deltas := make([]store.Delta, len(pending))
	for i, p := range pending {
		deltas[i] = store.Delta{Payload: p.Payload, Origin: p.Origin, CreatedAt: p.CreatedAt}
	}

	start := time.Now()
	err := backoff.Retry(ctx, backoff.Policy{
		MaxRetries:   c.conf.MaxRetries,
		BaseInterval: c.conf.ParseRetryBaseInterval(),
		MaxInterval:  c.conf.ParseRetryMaxInterval(),
	}, func(ctx context.Context) error {
		version, err := c.breaker.Execute(func() (int64, error) {
			return c.appendOnTop(ctx, k, t, deltas)
		})
		if err != nil {
			c.metrics.AddPersistenceFlushFailure()
			return err
		}
		t.storeVersion = version
		return nil
	}, func(err error) bool {
		return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, context.Canceled)
	})
	c.metrics.ObservePersistenceFlushSeconds(time.Since(start).Seconds())

	if err != nil {
		c.failed(ctx, k, t, err)
		return fmt.Errorf("flush %s: %w", k, err)
	}

	t.group.Confirm(len(pending))
	t.sinceSnapshot += len(pending)
	c.metrics.AddPersistenceAppendedDeltas(len(pending))
	c.recovered(ctx, k, t)

	if t.sinceSnapshot >= c.conf.SnapshotInterval ||
		time.Since(t.lastSnapshot) >= c.conf.ParseSnapshotPeriod() {
		if err := c.compact(ctx, k, t); err != nil {
			logging.From(ctx).Warnf("PERS: compact %s: %v", k, err)
		}
	}

	return nil
}

// appendOnTop appends the deltas on the store version known for the
// document, moving to the current store version when another process wrote
// first. It must be called with flushMu held.
func (c *Coordinator) appendOnTop(
	ctx context.Context,
	k key.Key,
	t *tracked,
	deltas []store.Delta,
) (int64, error) {
	for i := 0; ; i++ {
		version, err := c.store.AppendDeltas(ctx, k, t.storeVersion, deltas)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, store.ErrVersionMismatch) || i >= maxConflictRetries {
			return 0, err
		}

		current, err := c.store.Version(ctx, k)
		if err != nil {
			return 0, err
		}
		logging.From(ctx).Debugf("PERS: rebase %s from %d to %d", k, t.storeVersion, current)
		t.storeVersion = current
	}
}

func (c *Coordinator) failed(ctx context.Context, k key.Key, t *tracked, err error) {
	t.failures++
	if t.failures == c.conf.DegradedAfter {
		logging.From(ctx).Warnf("PERS: %s degraded after %d failed flushes: %v", k, t.failures, err)
		c.reporterMu.RLock()
		if c.reporter != nil {
			c.reporter.OnDegraded(k, fmt.Errorf("%s: %v: %w", k, err, ErrPersistenceDegraded))
		}
		c.reporterMu.RUnlock()
	}

	// Pending writes stay with the group and are written by the next flush.
	if !errors.Is(err, context.Canceled) {
		c.arm(k, t, c.conf.ParseRetryMaxInterval())
	}
}

func (c *Coordinator) recovered(ctx context.Context, k key.Key, t *tracked) {
	if t.failures >= c.conf.DegradedAfter {
		logging.From(ctx).Infof("PERS: %s recovered", k)
		c.reporterMu.RLock()
		if c.reporter != nil {
			c.reporter.OnRecovered(k)
		}
		c.reporterMu.RUnlock()
	}
	t.failures = 0
}

// compact rebuilds the state from durable storage and records it as a
// snapshot. It must be called with flushMu held.
func (c *Coordinator) compact(ctx context.Context, k key.Key, t *tracked) error {
	record, err := c.store.Load(ctx, k)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if len(record.Deltas) == 0 {
		t.sinceSnapshot = 0
		t.lastSnapshot = time.Now()
		return nil
	}

	replica, err := record.Replay(c.engine)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	blob, err := replica.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := c.store.WriteSnapshot(ctx, k, record.Version, blob); err != nil {
		if !errors.Is(err, store.ErrStaleSnapshot) {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logging.From(ctx).Debugf("PERS: snapshot of %s at %d is stale", k, record.Version)
	} else {
		c.metrics.AddPersistenceSnapshot()
	}

	t.sinceSnapshot = 0
	t.lastSnapshot = time.Now()
	return nil
}

// CompactDue compacts every tracked document that received deltas and
// whose latest snapshot is older than the snapshot period. It returns the
// number of compacted documents.
func (c *Coordinator) CompactDue(ctx context.Context) (int, error) {
	period := c.conf.ParseSnapshotPeriod()
	compacted := 0
	var errs []error

	for _, t := range c.docs.Values() {
		t.flushMu.Lock()
		if t.sinceSnapshot > 0 && time.Since(t.lastSnapshot) >= period {
			k := t.group.Key()
			if err := c.compact(ctx, k, t); err != nil {
				errs = append(errs, fmt.Errorf("compact %s: %w", k, err))
			} else {
				compacted++
			}
		}
		t.flushMu.Unlock()
	}

	return compacted, errors.Join(errs...)
}

// Retire flushes the pending writes of the document and records the version
// of its group as the floor of the next group, so that a group created later
// never shows its members a lower version. Callers stop updates of the group
// before retiring it.
func (c *Coordinator) Retire(ctx context.Context, k key.Key) error {
	if err := c.Flush(ctx, k); err != nil {
		return err
	}

	t, ok := c.docs.Get(k.CombinedKey())
	if !ok {
		return fmt.Errorf("retire %s: %w", k, ErrNotTracked)
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	version := t.group.Version()
	if version <= t.storeVersion {
		return nil
	}
	if err := c.store.RaiseVersionFloor(ctx, k, version); err != nil {
		return fmt.Errorf("retire %s at %d: %w", k, version, err)
	}
	return nil
}

// FlushAll flushes every tracked document, at most flushAllConcurrency at a
// time, and returns the joined errors.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	return c.each(ctx, c.Flush)
}

// RetireAll retires every tracked document like Retire.
func (c *Coordinator) RetireAll(ctx context.Context) error {
	return c.each(ctx, c.Retire)
}

func (c *Coordinator) each(ctx context.Context, fn func(context.Context, key.Key) error) error {
	var mu sync.Mutex
	var errs []error

	var eg errgroup.Group
	eg.SetLimit(flushAllConcurrency)
	for _, t := range c.docs.Values() {
		k := t.group.Key()
		eg.Go(func() error {
			if err := fn(ctx, k); err != nil && !errors.Is(err, ErrNotTracked) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	return errors.Join(errs...)
}

// Close stops every scheduled write.
func (c *Coordinator) Close() {
	for _, t := range c.docs.Values() {
		t.timerMu.Lock()
		t.untracked = true
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.timerMu.Unlock()
	}
}
