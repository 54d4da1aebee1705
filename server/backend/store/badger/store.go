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

// Package badger implements the store on top of an embedded badger database,
// for single node deployments that still need durability.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/logging"
)

const (
	prefixHead     = "h/"
	prefixFloor    = "f/"
	prefixSnapshot = "s/"
	prefixDelta    = "d/"
)

type snapshotValue struct {
	Version        int64     `json:"version"`
	Blob           []byte    `json:"blob"`
	CheckpointTime time.Time `json:"checkpoint_time"`
}

type deltaValue struct {
	Payload   []byte    `json:"payload"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

func headKey(docKey string) []byte {
	return []byte(prefixHead + docKey)
}

func floorKey(docKey string) []byte {
	return []byte(prefixFloor + docKey)
}

func snapshotKey(docKey string) []byte {
	return []byte(prefixSnapshot + docKey)
}

func deltaPrefix(docKey string) []byte {
	return []byte(prefixDelta + docKey + "/")
}

// deltaKey orders the deltas of the document by version under the
// lexicographic order of badger keys.
func deltaKey(docKey string, version int64) []byte {
	k := deltaPrefix(docKey)
	return binary.BigEndian.AppendUint64(k, uint64(version))
}

// Store is a store backed by badger.
type Store struct {
	db *badger.DB
}

// Open opens the badger database described by conf.
func Open(conf *Config) (*Store, error) {
	opts := badger.DefaultOptions(conf.Path).WithLogger(nil)
	if conf.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logging.DefaultLogger().Infof("badger opened, path: %q, in-memory: %t", conf.Path, conf.InMemory)
	return &Store{db: db}, nil
}

// Load returns the latest snapshot and the deltas after it.
func (s *Store) Load(_ context.Context, k key.Key) (*store.Record, error) {
	docKey := k.CombinedKey()
	record := &store.Record{Key: k}

	err := s.db.View(func(txn *badger.Txn) error {
		version, err := readHead(txn, docKey)
		if err != nil {
			return err
		}
		record.Version = version

		floor, err := readCounter(txn, floorKey(docKey), "floor of "+docKey)
		if err != nil {
			return err
		}
		record.VersionFloor = floor

		snapshot, err := readSnapshot(txn, docKey)
		if err != nil {
			return err
		}
		if snapshot != nil {
			record.SnapshotVersion = snapshot.Version
			record.Snapshot = snapshot.Blob
			record.CheckpointTime = snapshot.CheckpointTime
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := deltaPrefix(docKey)
		for it.Seek(deltaKey(docKey, record.SnapshotVersion+1)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read delta of %s: %w", docKey, err)
			}
			var value deltaValue
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("decode delta of %s: %w", docKey, err)
			}

			record.Deltas = append(record.Deltas, store.Delta{
				Version:   int64(binary.BigEndian.Uint64(item.Key()[len(prefix):])),
				Payload:   value.Payload,
				Origin:    value.Origin,
				CreatedAt: value.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", docKey, err)
	}

	return record, nil
}

// Version returns the highest version recorded for the document.
func (s *Store) Version(_ context.Context, k key.Key) (int64, error) {
	var version int64
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := readHead(txn, k.CombinedKey())
		version = v
		return err
	})
	return version, err
}

// AppendDeltas appends the deltas if the recorded version equals base.
func (s *Store) AppendDeltas(
	_ context.Context,
	k key.Key,
	base int64,
	deltas []store.Delta,
) (int64, error) {
	docKey := k.CombinedKey()
	version := base

	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readHead(txn, docKey)
		if err != nil {
			return err
		}
		if current != base {
			return fmt.Errorf("append to %s at %d, recorded %d: %w", docKey, base, current, store.ErrVersionMismatch)
		}

		now := time.Now()
		for _, d := range deltas {
			version++
			createdAt := d.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			raw, err := json.Marshal(deltaValue{Payload: d.Payload, Origin: d.Origin, CreatedAt: createdAt})
			if err != nil {
				return fmt.Errorf("encode delta: %w", err)
			}
			if err := txn.Set(deltaKey(docKey, version), raw); err != nil {
				return fmt.Errorf("set delta %d of %s: %w", version, docKey, err)
			}
		}

		return txn.Set(headKey(docKey), binary.BigEndian.AppendUint64(nil, uint64(version)))
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, fmt.Errorf("append to %s at %d: %w", docKey, base, store.ErrVersionMismatch)
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// WriteSnapshot records the blob as the state at version.
func (s *Store) WriteSnapshot(_ context.Context, k key.Key, version int64, blob []byte) error {
	docKey := k.CombinedKey()

	return s.db.Update(func(txn *badger.Txn) error {
		current, err := readSnapshot(txn, docKey)
		if err != nil {
			return err
		}
		if current != nil && current.Version > version {
			return fmt.Errorf(
				"snapshot %d of %s, recorded %d: %w",
				version, docKey, current.Version, store.ErrStaleSnapshot,
			)
		}

		raw, err := json.Marshal(snapshotValue{Version: version, Blob: blob, CheckpointTime: time.Now()})
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := txn.Set(snapshotKey(docKey), raw); err != nil {
			return fmt.Errorf("set snapshot of %s: %w", docKey, err)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := deltaPrefix(docKey)
		var obsolete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if int64(binary.BigEndian.Uint64(item.Key()[len(prefix):])) > version {
				break
			}
			obsolete = append(obsolete, item.KeyCopy(nil))
		}
		for _, k := range obsolete {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete delta of %s: %w", docKey, err)
			}
		}
		return nil
	})
}

// RaiseVersionFloor records version as the floor of the next group.
func (s *Store) RaiseVersionFloor(_ context.Context, k key.Key, version int64) error {
	docKey := k.CombinedKey()

	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readCounter(txn, floorKey(docKey), "floor of "+docKey)
		if err != nil {
			return err
		}
		if version <= current {
			return nil
		}
		return txn.Set(floorKey(docKey), binary.BigEndian.AppendUint64(nil, uint64(version)))
	})
	if err != nil {
		return fmt.Errorf("raise floor of %s: %w", docKey, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func readHead(txn *badger.Txn, docKey string) (int64, error) {
	return readCounter(txn, headKey(docKey), "head of "+docKey)
}

func readCounter(txn *badger.Txn, k []byte, what string) (int64, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", what, err)
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", what, err)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func readSnapshot(txn *badger.Txn, docKey string) (*snapshotValue, error) {
	item, err := txn.Get(snapshotKey(docKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot of %s: %w", docKey, err)
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read snapshot of %s: %w", docKey, err)
	}

	var value snapshotValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode snapshot of %s: %w", docKey, err)
	}
	return &value, nil
}
