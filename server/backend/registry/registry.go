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

// Package registry keeps the synchronization groups resident in this
// process. There is at most one group per document identity: creation is
// serialized per identity and groups of different documents never wait for
// each other.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/wavelet-team/wavelet/pkg/cmap"
	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/pkg/locker"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/background"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

var (
	// ErrGroupUnavailable is returned when the group of a document could not
	// be created, for example because durable storage is unreachable.
	ErrGroupUnavailable = errors.New("group unavailable")

	// ErrRegistryClosed is returned after the registry was closed.
	ErrRegistryClosed = errors.New("registry closed")
)

// admitRetryInterval is the wait before admitting again to a group that was
// being evicted.
const admitRetryInterval = 10 * time.Millisecond

// Options are the collaborators of the registry.
type Options struct {
	ProcessID   string
	Engine      document.Engine
	Coordinator *persistence.Coordinator
	Bus         fanout.Bus
	Publisher   group.Publisher
	Background  *background.Background
	Metrics     *prometheus.Metrics

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

// GroupStats is the view of a resident group.
type GroupStats struct {
	Key string `json:"key"`
	group.Stats
	Degraded bool `json:"degraded"`
}

type entry struct {
	group *group.Group
	sub   fanout.Subscription
}

// Registry holds the resident groups.
type Registry struct {
	conf *Config
	opts Options

	locker   *locker.Locker
	groups   *cmap.Map[string, *entry]
	degraded *cmap.Map[string, error]
	closed   atomic.Bool
}

// New creates a registry. It registers itself as the reporter of degraded
// documents of the coordinator.
func New(conf *Config, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		conf:     conf,
		opts:     opts,
		locker:   locker.New(),
		groups:   cmap.New[string, *entry](),
		degraded: cmap.New[string, error](),
	}
	opts.Coordinator.SetReporter(r)
	return r
}

// Get returns the resident group of the document.
func (r *Registry) Get(k key.Key) (*group.Group, bool) {
	e, ok := r.groups.Get(k.CombinedKey())
	if !ok {
		return nil, false
	}
	return e.group, true
}

// Len returns the number of resident groups.
func (r *Registry) Len() int {
	return r.groups.Len()
}

// Acquire returns the resident group of the document or creates it from
// durable storage.
func (r *Registry) Acquire(ctx context.Context, k key.Key) (*group.Group, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	ck := k.CombinedKey()
	if e, ok := r.groups.Get(ck); ok {
		return e.group, nil
	}

	if err := r.locker.LockContext(ctx, ck); err != nil {
		return nil, fmt.Errorf("lock %s: %w", k, err)
	}
	defer func() {
		if err := r.locker.Unlock(ck); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	if e, ok := r.groups.Get(ck); ok {
		return e.group, nil
	}

	return r.create(ctx, k)
}

// create loads the document and makes the group resident. It must be called
// with the lock of the document held.
func (r *Registry) create(ctx context.Context, k key.Key) (*group.Group, error) {
	start := time.Now()

	// The subscription comes first so that no envelope published while the
	// document is loaded goes unnoticed.
	var ready atomic.Pointer[group.Group]
	var missed atomic.Bool
	sub, err := r.opts.Bus.Subscribe(ctx, k, func(ctx context.Context, env *fanout.Envelope) {
		g := ready.Load()
		if g == nil {
			if env.Origin != r.opts.ProcessID {
				missed.Store(true)
			}
			return
		}
		r.receive(ctx, g, env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w: %w", k, ErrGroupUnavailable, err)
	}

	record, err := r.opts.Coordinator.Load(ctx, k)
	if err != nil {
		r.closeSubscription(ctx, k, sub)
		return nil, fmt.Errorf("load %s: %w: %w", k, ErrGroupUnavailable, err)
	}

	g, err := group.New(r.opts.Engine, record, group.Options{
		ProcessID: r.opts.ProcessID,
		Publisher: r.opts.Publisher,
		Notifier:  r.opts.Coordinator,
		Metrics:   r.opts.Metrics,
		Now:       r.opts.Now,
	})
	if err != nil {
		r.closeSubscription(ctx, k, sub)
		return nil, fmt.Errorf("create %s: %w: %w", k, ErrGroupUnavailable, err)
	}

	r.opts.Coordinator.Track(g, record.Version, len(record.Deltas))
	r.groups.Set(k.CombinedKey(), &entry{group: g, sub: sub})
	ready.Store(g)
	if missed.Load() {
		r.reloadLater(g)
	}

	r.opts.Metrics.AddResidentGroup()
	r.opts.Metrics.ObserveGroupLoadSeconds(time.Since(start).Seconds())
	logging.From(ctx).Debugf("GRP: %s resident at version %d", k, record.Version)
	return g, nil
}

// AcquireAndAdmit admits the member to the group of the document. A group
// that is being evicted is acquired again, which recreates it.
func (r *Registry) AcquireAndAdmit(
	ctx context.Context,
	k key.Key,
	member group.Member,
	decision access.Decision,
) (*group.Group, error) {
	for {
		g, err := r.Acquire(ctx, k)
		if err != nil {
			return nil, err
		}

		err = g.Admit(member, decision)
		if !errors.Is(err, group.ErrGroupEvicting) && !errors.Is(err, group.ErrGroupClosed) {
			if err != nil {
				return nil, err
			}
			return g, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("admit to %s: %w", k, ctx.Err())
		case <-time.After(admitRetryInterval):
		}
	}
}

// receive applies an envelope of another process to the group.
func (r *Registry) receive(ctx context.Context, g *group.Group, env *fanout.Envelope) {
	err := g.ApplyRemote(ctx, env)
	switch {
	case err == nil:
	case errors.Is(err, group.ErrFanoutGap):
		r.opts.Metrics.AddFanoutGap()
		logging.From(ctx).Warnf("FAN: %v", err)
		r.reload(ctx, g)
		r.reloadLater(g)
	case errors.Is(err, group.ErrFanoutCatchUp):
		logging.From(ctx).Infof("FAN: %v", err)
		r.reloadLater(g)
	default:
		logging.From(ctx).Warnf("FAN: %v", err)
	}
}

func (r *Registry) reload(ctx context.Context, g *group.Group) {
	record, err := r.opts.Coordinator.Load(ctx, g.Key())
	if err != nil {
		logging.From(ctx).Warnf("FAN: reload %s: %v", g.Key(), err)
		return
	}
	if err := g.Reload(ctx, record); err != nil {
		logging.From(ctx).Warnf("FAN: reload %s: %v", g.Key(), err)
	}
}

// reloadLater reloads the group after the reload delay, picking up deltas
// that were not durable when the gap was seen.
func (r *Registry) reloadLater(g *group.Group) {
	delay := r.conf.ParseReloadDelay()
	r.opts.Background.AttachGoroutine(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		r.reload(ctx, g)
	}, "registry-reload")
}

// ReleaseIfIdle evicts the groups that have no members and were idle for
// the idle threshold. Pending writes are flushed and the version of the
// group is kept as the floor of the next one first; a group whose flush fails
// stays resident. It returns the number of evicted groups.
func (r *Registry) ReleaseIfIdle(ctx context.Context) (int, error) {
	idle := r.conf.ParseIdleThreshold()
	evicted := 0
	var errs []error

	for _, e := range r.groups.Values() {
		ok, err := r.release(ctx, e, idle)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			evicted++
		}
	}

	return evicted, errors.Join(errs...)
}

func (r *Registry) release(ctx context.Context, e *entry, idle time.Duration) (bool, error) {
	k := e.group.Key()
	if !e.group.BeginEviction(r.opts.Now(), idle) {
		return false, nil
	}

	ck := k.CombinedKey()
	if err := r.locker.LockContext(ctx, ck); err != nil {
		e.group.AbortEviction()
		return false, fmt.Errorf("lock %s: %w", k, err)
	}
	defer func() {
		if err := r.locker.Unlock(ck); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	if err := r.opts.Coordinator.Retire(ctx, k); err != nil {
		e.group.AbortEviction()
		logging.From(ctx).Warnf("HSKP: keep %s resident: %v", k, err)
		return false, fmt.Errorf("evict %s: %w", k, err)
	}

	r.remove(ctx, e, group.ErrGroupClosed)
	logging.From(ctx).Debugf("HSKP: evicted %s", k)
	return true, nil
}

// remove drops the group. It must be called with the lock of the document
// held.
func (r *Registry) remove(ctx context.Context, e *entry, reason error) {
	k := e.group.Key()
	if !r.groups.Delete(k.CombinedKey(), func(v *entry) bool { return v == e }) {
		return
	}

	r.closeSubscription(ctx, k, e.sub)
	r.opts.Coordinator.Untrack(k)
	e.group.Close(reason)

	if r.degraded.Delete(k.CombinedKey(), func(error) bool { return true }) {
		r.opts.Metrics.SetPersistenceDegradedDocuments(r.degraded.Len())
	}
	r.opts.Metrics.RemoveResidentGroup()
}

func (r *Registry) closeSubscription(ctx context.Context, k key.Key, sub fanout.Subscription) {
	if err := sub.Close(); err != nil {
		logging.From(ctx).Warnf("FAN: unsubscribe %s: %v", k, err)
	}
}

// OnDegraded records that writes of the document keep failing.
func (r *Registry) OnDegraded(k key.Key, err error) {
	r.degraded.Set(k.CombinedKey(), err)
	r.opts.Metrics.SetPersistenceDegradedDocuments(r.degraded.Len())
	logging.DefaultLogger().Warnf("PERS: %v", err)
}

// OnRecovered records that writes of the document succeed again.
func (r *Registry) OnRecovered(k key.Key) {
	r.degraded.Delete(k.CombinedKey(), func(error) bool { return true })
	r.opts.Metrics.SetPersistenceDegradedDocuments(r.degraded.Len())
}

// Stats returns the view of every resident group ordered by key.
func (r *Registry) Stats() []GroupStats {
	entries := r.groups.Values()
	stats := make([]GroupStats, 0, len(entries))
	for _, e := range entries {
		ck := e.group.Key().CombinedKey()
		stats = append(stats, GroupStats{
			Key:      ck,
			Stats:    e.group.Stats(),
			Degraded: r.degraded.Has(ck),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Key < stats[j].Key
	})
	return stats
}

// Close stops updates of every group, flushes it and removes it. Members
// left are disconnected.
func (r *Registry) Close(ctx context.Context) error {
	r.closed.Store(true)

	entries := r.groups.Values()
	for _, e := range entries {
		e.group.Close(ErrRegistryClosed)
	}

	var errs []error
	if err := r.opts.Coordinator.RetireAll(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, e := range entries {
		ck := e.group.Key().CombinedKey()
		r.locker.Lock(ck)
		r.remove(ctx, e, ErrRegistryClosed)
		if err := r.locker.Unlock(ck); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
