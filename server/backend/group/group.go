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

// Package group implements the synchronization group of a document: the one
// place its state is merged. Every operation on a group runs under the group
// mutex, groups of different documents share nothing.
package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// maxRemoteRetained bounds the remote payloads kept for rebuilding the state.
const maxRemoteRetained = 1024

// Publisher queues envelopes for the fan-out bus.
type Publisher interface {
	Enqueue(env *fanout.Envelope) bool
}

// Notifier is told about the number of pending writes after every local
// update.
type Notifier interface {
	Notify(k key.Key, pending int)
}

// Options are the collaborators of a group.
type Options struct {
	// ProcessID is the origin of envelopes published by this process.
	ProcessID string

	Publisher Publisher
	Notifier  Notifier
	Metrics   *prometheus.Metrics

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

// Group is the synchronization group of one document.
type Group struct {
	key    key.Key
	engine document.Engine
	opts   Options

	mu      sync.Mutex
	state   document.Replica
	version int64

	// loadedVersion is the store version the state includes everything of.
	loadedVersion int64

	members      map[string]*membership
	pending      []PendingWrite
	lastActivity time.Time
	evicting     bool
	closed       bool

	// seq is the last sequence number published for the document.
	seq uint64

	// remoteSeqs is the last sequence number applied per remote origin.
	remoteSeqs map[string]uint64

	// remote holds the payloads of remote deltas merged since the state was
	// loaded that no durable record covered yet.
	remote [][]byte
}

// New creates a group from the durable record of the document. The group
// starts at the version floor of the record when a previous group of the
// document showed its members a version the store does not have yet.
func New(engine document.Engine, record *store.Record, opts Options) (*Group, error) {
	state, err := record.Replay(engine)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", record.Key, err)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Group{
		key:           record.Key,
		engine:        engine,
		opts:          opts,
		state:         state,
		version:       record.StartVersion(),
		loadedVersion: record.Version,
		members:       make(map[string]*membership),
		lastActivity:  opts.Now(),
		remoteSeqs:    make(map[string]uint64),
	}, nil
}

// Key returns the key of the document.
func (g *Group) Key() key.Key {
	return g.key
}

// Version returns the current version.
func (g *Group) Version() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.version
}

// Admit registers the member and enqueues the snapshot of the current state
// as its first message. A member that joins again replaces its previous
// registration.
func (g *Group) Admit(member Member, decision access.Decision) error {
	if !decision.Allowed() {
		return fmt.Errorf("%s on %s: %w", member.User(), g.key, ErrAccessDenied)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return fmt.Errorf("admit to %s: %w", g.key, ErrGroupClosed)
	}
	if g.evicting {
		return fmt.Errorf("admit to %s: %w", g.key, ErrGroupEvicting)
	}

	snapshot, err := g.state.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", g.key, err)
	}
	if !member.Send(Message{Type: TypeSnapshot, Version: g.version, Payload: snapshot}) {
		return fmt.Errorf("snapshot of %s: %w", g.key, ErrBackpressureDisconnect)
	}

	g.members[member.ID()] = &membership{member: member, decision: decision}
	g.lastActivity = g.opts.Now()
	return nil
}

// Remove removes the member. Nothing is broadcast and an empty group stays
// resident until the idle sweep evicts it.
func (g *Group) Remove(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[sessionID]; !ok {
		return false
	}
	delete(g.members, sessionID)
	g.lastActivity = g.opts.Now()
	return true
}

// Apply merges an update of a member. The delta is broadcast to every other
// member, acknowledged to the origin, queued for durable storage and
// published to other processes. It returns the version after the update.
func (g *Group) Apply(ctx context.Context, update Update) (int64, error) {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return 0, fmt.Errorf("apply to %s: %w", g.key, ErrGroupClosed)
	}

	origin, ok := g.members[update.Origin]
	if !ok {
		g.mu.Unlock()
		return 0, fmt.Errorf("%s on %s: %w", update.Origin, g.key, ErrNotMember)
	}
	if origin.decision != access.AllowWrite {
		g.mu.Unlock()
		return 0, fmt.Errorf("%s on %s: %w", update.Origin, g.key, ErrReadOnly)
	}

	if err := g.state.Apply(update.Payload); err != nil {
		g.mu.Unlock()
		return 0, fmt.Errorf("%s on %s: %v: %w", update.Origin, g.key, err, ErrInvalidUpdate)
	}

	now := g.opts.Now()
	g.version++
	version := g.version
	g.pending = append(g.pending, PendingWrite{
		Version:   version,
		Payload:   update.Payload,
		Origin:    update.Origin,
		CreatedAt: now,
	})
	g.lastActivity = now

	delta := Message{Type: TypeDelta, Version: version, Payload: update.Payload}
	dropped := g.broadcast(delta, update.Origin)
	if !origin.member.Send(Message{Type: TypeAck, Version: version, ClientClock: update.ClientClock}) {
		delete(g.members, update.Origin)
		dropped = append(dropped, origin.member)
	}

	g.publish(version, update.Payload)
	pending := len(g.pending)
	g.mu.Unlock()

	g.disconnect(ctx, dropped)
	g.opts.Metrics.AddUpdateApplied(prometheus.SourceLocal)
	if g.opts.Notifier != nil {
		g.opts.Notifier.Notify(g.key, pending)
	}

	return version, nil
}

// ApplyRemote merges a delta accepted by another process. It is broadcast to
// every member but neither queued for durable storage nor published again.
// Envelopes of this process and duplicates are ignored. An envelope after a
// gap in the sequence of the origin is dropped with ErrFanoutGap; the deltas
// in between are brought in by a reload.
func (g *Group) ApplyRemote(ctx context.Context, env *fanout.Envelope) error {
	if env.Origin == g.opts.ProcessID {
		return nil
	}

	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return nil
	}

	last, seen := g.remoteSeqs[env.Origin]
	if seen && env.Seq <= last {
		g.mu.Unlock()
		logging.From(ctx).Debugf("GRP: drop duplicate %s seq %d from %s", g.key, env.Seq, env.Origin)
		return nil
	}

	if seen && env.Seq > last+1 {
		g.mu.Unlock()
		return fmt.Errorf("%s from %s: seq %d after %d: %w", g.key, env.Origin, env.Seq, last, ErrFanoutGap)
	}

	var result error
	if !seen && env.Seq > 1 {
		result = fmt.Errorf("%s from %s: first seq %d: %w", g.key, env.Origin, env.Seq, ErrFanoutCatchUp)
	}

	g.remoteSeqs[env.Origin] = env.Seq
	if err := g.state.Apply(env.Payload); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("remote %s seq %d: %v: %w", g.key, env.Seq, err, ErrInvalidUpdate)
	}
	g.retainRemote(env.Payload)

	g.version++
	g.lastActivity = g.opts.Now()
	dropped := g.broadcast(Message{Type: TypeDelta, Version: g.version, Payload: env.Payload}, "")
	g.mu.Unlock()

	g.disconnect(ctx, dropped)
	g.opts.Metrics.AddUpdateApplied(prometheus.SourceRemote)
	return result
}

// Reload brings the state up to date with the durable record. If the record
// has no snapshot newer than what the group loaded before, the durable deltas
// are merged into the current state. Otherwise the state is rebuilt from the
// record, and the remote deltas not covered by it and the pending writes are
// applied on top. Every member receives a fresh snapshot.
//
// The sequence numbers seen per origin are forgotten: the next envelope of
// every origin is taken as a first contact.
func (g *Group) Reload(ctx context.Context, record *store.Record) error {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return nil
	}

	if record.SnapshotVersion <= g.loadedVersion {
		for _, d := range record.Deltas {
			if d.Version <= g.loadedVersion {
				continue
			}
			if err := g.state.Apply(d.Payload); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("merge %s delta %d: %w", g.key, d.Version, err)
			}
		}
	} else {
		state, err := record.Replay(g.engine)
		if err != nil {
			g.mu.Unlock()
			return fmt.Errorf("replay %s: %w", g.key, err)
		}
		for _, payload := range g.uncoveredRemote(record) {
			if err := state.Apply(payload); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("reapply %s remote delta: %w", g.key, err)
			}
		}
		for _, p := range g.pending {
			if err := state.Apply(p.Payload); err != nil {
				g.mu.Unlock()
				return fmt.Errorf("reapply %s pending %d: %w", g.key, p.Version, err)
			}
		}
		g.state = state
	}

	g.remote = g.uncoveredRemote(record)
	g.remoteSeqs = make(map[string]uint64)
	if record.Version > g.loadedVersion {
		g.loadedVersion = record.Version
	}
	g.version = max(g.version, record.StartVersion())

	snapshot, err := g.state.Encode()
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("encode %s: %w", g.key, err)
	}
	dropped := g.broadcast(Message{Type: TypeSnapshot, Version: g.version, Payload: snapshot}, "")
	g.mu.Unlock()

	g.disconnect(ctx, dropped)
	return nil
}

// PendingWrites returns a copy of the pending writes in acceptance order.
func (g *Group) PendingWrites() []PendingWrite {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]PendingWrite(nil), g.pending...)
}

// PendingLen returns the number of pending writes.
func (g *Group) PendingLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.pending)
}

// Confirm trims the first n pending writes after they were written durably.
func (g *Group) Confirm(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n > len(g.pending) {
		n = len(g.pending)
	}
	g.pending = append([]PendingWrite(nil), g.pending[n:]...)
}

// Snapshot returns the version and the encoded state.
func (g *Group) Snapshot() (int64, []byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	blob, err := g.state.Encode()
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", g.key, err)
	}
	return g.version, blob, nil
}

// BeginEviction marks the group as evicting if it has no members and was
// idle for at least idle. Admits are refused from then on.
func (g *Group) BeginEviction(now time.Time, idle time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.evicting || len(g.members) > 0 {
		return false
	}
	if now.Sub(g.lastActivity) < idle {
		return false
	}

	g.evicting = true
	return true
}

// AbortEviction makes the group accept admits again.
func (g *Group) AbortEviction() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evicting = false
}

// Close closes the group. Members left are disconnected with the reason.
func (g *Group) Close(reason error) {
	g.mu.Lock()
	g.closed = true
	members := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m.member)
	}
	g.members = make(map[string]*membership)
	g.mu.Unlock()

	for _, m := range members {
		m.Disconnect(reason)
	}
}

// Stats returns a point in time view of the group.
func (g *Group) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	readOnly := 0
	for _, m := range g.members {
		if m.decision == access.AllowRead {
			readOnly++
		}
	}

	return Stats{
		Version:      g.version,
		Members:      len(g.members),
		ReadOnly:     readOnly,
		Pending:      len(g.pending),
		LastActivity: g.lastActivity,
		Evicting:     g.evicting,
	}
}

// broadcast sends the message to every member except the one with the given
// id. Members whose queue is full are removed and returned. It must be called
// with the mutex held.
func (g *Group) broadcast(msg Message, except string) []Member {
	var dropped []Member
	sent := 0
	for id, m := range g.members {
		if id == except {
			continue
		}
		if !m.member.Send(msg) {
			delete(g.members, id)
			dropped = append(dropped, m.member)
			continue
		}
		sent++
	}
	g.opts.Metrics.AddBroadcastMessages(sent)
	return dropped
}

// retainRemote keeps the payload of a merged remote delta. It must be called
// with the mutex held.
func (g *Group) retainRemote(payload []byte) {
	if len(g.remote) >= maxRemoteRetained {
		g.remote = append(g.remote[:0:0], g.remote[len(g.remote)-maxRemoteRetained+1:]...)
	}
	g.remote = append(g.remote, payload)
}

// uncoveredRemote returns the retained remote payloads that are not among
// the deltas of the record. It must be called with the mutex held.
func (g *Group) uncoveredRemote(record *store.Record) [][]byte {
	if len(g.remote) == 0 {
		return nil
	}

	durable := make(map[string]struct{}, len(record.Deltas))
	for _, d := range record.Deltas {
		durable[string(d.Payload)] = struct{}{}
	}

	var uncovered [][]byte
	for _, payload := range g.remote {
		if _, ok := durable[string(payload)]; !ok {
			uncovered = append(uncovered, payload)
		}
	}
	return uncovered
}

// publish queues an envelope of a local delta. It must be called with the
// mutex held so that sequence numbers follow version order.
func (g *Group) publish(version int64, payload []byte) {
	if g.opts.Publisher == nil {
		return
	}

	g.seq++
	g.opts.Publisher.Enqueue(&fanout.Envelope{
		Key:     g.key,
		Origin:  g.opts.ProcessID,
		Seq:     g.seq,
		Version: version,
		Payload: payload,
	})
}

func (g *Group) disconnect(ctx context.Context, members []Member) {
	for _, m := range members {
		logging.From(ctx).Warnf("GRP: disconnect %s from %s: queue full", m.ID(), g.key)
		g.opts.Metrics.AddBackpressureDisconnect()
		m.Disconnect(ErrBackpressureDisconnect)
	}
}
