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

// Package store defines the durable storage of document snapshots and the
// append log of deltas written after them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/key"
)

var (
	// ErrVersionMismatch is returned by AppendDeltas when the given base is
	// not the version recorded in the store.
	ErrVersionMismatch = errors.New("store version mismatch")

	// ErrStaleSnapshot is returned by WriteSnapshot when a newer snapshot is
	// already recorded.
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// Delta is one row of the append log.
type Delta struct {
	// Version is assigned by the store on append.
	Version int64

	Payload   []byte
	Origin    string
	CreatedAt time.Time
}

// Record is the durable state of one document: the latest snapshot and the
// deltas appended after it in stored order.
type Record struct {
	Key             key.Key
	SnapshotVersion int64
	Snapshot        []byte
	CheckpointTime  time.Time
	Deltas          []Delta

	// Version is the highest version the store has handed out for the
	// document.
	Version int64

	// VersionFloor is the highest version a previous group of the document
	// showed its members. A new group never starts below it.
	VersionFloor int64
}

// StartVersion returns the version a group loaded from the record starts at.
func (r *Record) StartVersion() int64 {
	return max(r.Version, r.VersionFloor)
}

// Payloads returns the payloads of the deltas in stored order.
func (r *Record) Payloads() [][]byte {
	payloads := make([][]byte, len(r.Deltas))
	for i, d := range r.Deltas {
		payloads[i] = d.Payload
	}
	return payloads
}

// Replay builds a replica from the snapshot and the deltas of the record.
func (r *Record) Replay(engine document.Engine) (document.Replica, error) {
	return document.Replay(engine, r.Snapshot, r.Payloads())
}

// Store is the durable storage used by the persistence coordinator.
type Store interface {
	// Load returns the latest snapshot and the deltas after it. A document
	// that was never written returns an empty record.
	Load(ctx context.Context, k key.Key) (*Record, error)

	// Version returns the highest version recorded for the document.
	Version(ctx context.Context, k key.Key) (int64, error)

	// AppendDeltas appends the deltas if the recorded version equals base.
	// The deltas are assigned versions base+1..base+n and the new version is
	// returned. A different recorded version yields ErrVersionMismatch and
	// nothing is appended.
	AppendDeltas(ctx context.Context, k key.Key, base int64, deltas []Delta) (int64, error)

	// WriteSnapshot records the blob as the state at version and removes the
	// deltas up to that version. A snapshot older than the recorded one
	// yields ErrStaleSnapshot.
	WriteSnapshot(ctx context.Context, k key.Key, version int64, blob []byte) error

	// RaiseVersionFloor records version as the floor of the next group of the
	// document. A version below the recorded floor is ignored.
	RaiseVersionFloor(ctx context.Context, k key.Key, version int64) error

	// Close releases the resources of the store.
	Close() error
}
