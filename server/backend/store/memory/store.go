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

// Package memory implements the store on top of go-memdb. It keeps everything
// in the process and is used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/store"
)

type headRecord struct {
	DocKey  string
	Version int64
}

type floorRecord struct {
	DocKey  string
	Version int64
}

type snapshotRecord struct {
	DocKey         string
	Version        int64
	Blob           []byte
	CheckpointTime time.Time
}

type deltaRecord struct {
	ID        string
	DocKey    string
	Version   int64
	Payload   []byte
	Origin    string
	CreatedAt time.Time
}

func deltaID(docKey string, version int64) string {
	return fmt.Sprintf("%s#%020d", docKey, version)
}

// Store is an in-memory store.
type Store struct {
	db *memdb.MemDB
}

// New returns a new in-memory store.
func New() (*Store, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &Store{db: memDB}, nil
}

// Load returns the latest snapshot and the deltas after it.
func (s *Store) Load(_ context.Context, k key.Key) (*store.Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	docKey := k.CombinedKey()
	record := &store.Record{Key: k}

	version, err := headVersion(txn, docKey)
	if err != nil {
		return nil, err
	}
	record.Version = version

	floor, err := floorVersion(txn, docKey)
	if err != nil {
		return nil, err
	}
	record.VersionFloor = floor

	raw, err := txn.First(tblSnapshots, "id", docKey)
	if err != nil {
		return nil, fmt.Errorf("find snapshot of %s: %w", docKey, err)
	}
	if raw != nil {
		snapshot := raw.(*snapshotRecord)
		record.SnapshotVersion = snapshot.Version
		record.Snapshot = snapshot.Blob
		record.CheckpointTime = snapshot.CheckpointTime
	}

	rows, err := deltasOf(txn, docKey)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Version <= record.SnapshotVersion {
			continue
		}
		record.Deltas = append(record.Deltas, store.Delta{
			Version:   row.Version,
			Payload:   row.Payload,
			Origin:    row.Origin,
			CreatedAt: row.CreatedAt,
		})
	}

	return record, nil
}

// Version returns the highest version recorded for the document.
func (s *Store) Version(_ context.Context, k key.Key) (int64, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	return headVersion(txn, k.CombinedKey())
}

// AppendDeltas appends the deltas if the recorded version equals base.
func (s *Store) AppendDeltas(
	_ context.Context,
	k key.Key,
	base int64,
	deltas []store.Delta,
) (int64, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	docKey := k.CombinedKey()
	current, err := headVersion(txn, docKey)
	if err != nil {
		return 0, err
	}
	if current != base {
		return 0, fmt.Errorf("append to %s at %d, recorded %d: %w", docKey, base, current, store.ErrVersionMismatch)
	}

	now := time.Now()
	version := base
	for _, d := range deltas {
		version++
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if err := txn.Insert(tblDeltas, &deltaRecord{
			ID:        deltaID(docKey, version),
			DocKey:    docKey,
			Version:   version,
			Payload:   d.Payload,
			Origin:    d.Origin,
			CreatedAt: createdAt,
		}); err != nil {
			return 0, fmt.Errorf("insert delta %d of %s: %w", version, docKey, err)
		}
	}

	if err := txn.Insert(tblHeads, &headRecord{DocKey: docKey, Version: version}); err != nil {
		return 0, fmt.Errorf("update head of %s: %w", docKey, err)
	}

	txn.Commit()
	return version, nil
}

// WriteSnapshot records the blob as the state at version.
func (s *Store) WriteSnapshot(_ context.Context, k key.Key, version int64, blob []byte) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	docKey := k.CombinedKey()
	raw, err := txn.First(tblSnapshots, "id", docKey)
	if err != nil {
		return fmt.Errorf("find snapshot of %s: %w", docKey, err)
	}
	if raw != nil && raw.(*snapshotRecord).Version > version {
		return fmt.Errorf(
			"snapshot %d of %s, recorded %d: %w",
			version, docKey, raw.(*snapshotRecord).Version, store.ErrStaleSnapshot,
		)
	}

	if err := txn.Insert(tblSnapshots, &snapshotRecord{
		DocKey:         docKey,
		Version:        version,
		Blob:           blob,
		CheckpointTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("insert snapshot of %s: %w", docKey, err)
	}

	rows, err := deltasOf(txn, docKey)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Version > version {
			break
		}
		if err := txn.Delete(tblDeltas, row); err != nil {
			return fmt.Errorf("delete delta %d of %s: %w", row.Version, docKey, err)
		}
	}

	txn.Commit()
	return nil
}

// RaiseVersionFloor records version as the floor of the next group.
func (s *Store) RaiseVersionFloor(_ context.Context, k key.Key, version int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	docKey := k.CombinedKey()
	current, err := floorVersion(txn, docKey)
	if err != nil {
		return err
	}
	if version <= current {
		return nil
	}

	if err := txn.Insert(tblFloors, &floorRecord{DocKey: docKey, Version: version}); err != nil {
		return fmt.Errorf("update floor of %s: %w", docKey, err)
	}

	txn.Commit()
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return nil
}

func headVersion(txn *memdb.Txn, docKey string) (int64, error) {
	raw, err := txn.First(tblHeads, "id", docKey)
	if err != nil {
		return 0, fmt.Errorf("find head of %s: %w", docKey, err)
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*headRecord).Version, nil
}

func floorVersion(txn *memdb.Txn, docKey string) (int64, error) {
	raw, err := txn.First(tblFloors, "id", docKey)
	if err != nil {
		return 0, fmt.Errorf("find floor of %s: %w", docKey, err)
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*floorRecord).Version, nil
}

// deltasOf returns the delta rows of the document sorted by version.
func deltasOf(txn *memdb.Txn, docKey string) ([]*deltaRecord, error) {
	iter, err := txn.Get(tblDeltas, "doc_key", docKey)
	if err != nil {
		return nil, fmt.Errorf("find deltas of %s: %w", docKey, err)
	}

	var rows []*deltaRecord
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		rows = append(rows, raw.(*deltaRecord))
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Version < rows[j].Version
	})
	return rows, nil
}
