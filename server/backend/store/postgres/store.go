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

// Package postgres implements the store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS wavelet_heads (
	doc_key TEXT PRIMARY KEY,
	version BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS wavelet_floors (
	doc_key TEXT PRIMARY KEY,
	version BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS wavelet_snapshots (
	doc_key         TEXT PRIMARY KEY,
	version         BIGINT NOT NULL,
	blob            BYTEA NOT NULL,
	checkpoint_time TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS wavelet_deltas (
	doc_key    TEXT NOT NULL,
	version    BIGINT NOT NULL,
	payload    BYTEA NOT NULL,
	origin     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (doc_key, version)
);
`

// Store is a store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Dial connects to the database and creates the schema if needed.
func Dial(conf *Config) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	poolConf, err := pgxpool.ParseConfig(conf.ConnectionURI)
	if err != nil {
		return nil, fmt.Errorf("parse postgres uri: %w", err)
	}
	if conf.MaxConns > 0 {
		poolConf.MaxConns = conf.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConf)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logging.DefaultLogger().Infof("PostgreSQL connected, host: %s, DB: %s", poolConf.ConnConfig.Host, poolConf.ConnConfig.Database)
	return &Store{pool: pool}, nil
}

// Load returns the latest snapshot and the deltas after it.
func (s *Store) Load(ctx context.Context, k key.Key) (*store.Record, error) {
	docKey := k.CombinedKey()
	record := &store.Record{Key: k}

	version, err := s.Version(ctx, k)
	if err != nil {
		return nil, err
	}
	record.Version = version

	err = s.pool.QueryRow(
		ctx,
		`SELECT version FROM wavelet_floors WHERE doc_key = $1`,
		docKey,
	).Scan(&record.VersionFloor)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find floor of %s: %w", docKey, err)
	}

	err = s.pool.QueryRow(
		ctx,
		`SELECT version, blob, checkpoint_time FROM wavelet_snapshots WHERE doc_key = $1`,
		docKey,
	).Scan(&record.SnapshotVersion, &record.Snapshot, &record.CheckpointTime)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find snapshot of %s: %w", docKey, err)
	}

	rows, err := s.pool.Query(
		ctx,
		`SELECT version, payload, origin, created_at FROM wavelet_deltas
		WHERE doc_key = $1 AND version > $2 ORDER BY version`,
		docKey, record.SnapshotVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("find deltas of %s: %w", docKey, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d store.Delta
		if err := rows.Scan(&d.Version, &d.Payload, &d.Origin, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delta of %s: %w", docKey, err)
		}
		record.Deltas = append(record.Deltas, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read deltas of %s: %w", docKey, err)
	}

	return record, nil
}

// Version returns the highest version recorded for the document.
func (s *Store) Version(ctx context.Context, k key.Key) (int64, error) {
	var version int64
	err := s.pool.QueryRow(
		ctx,
		`SELECT version FROM wavelet_heads WHERE doc_key = $1`,
		k.CombinedKey(),
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find head of %s: %w", k, err)
	}
	return version, nil
}

// AppendDeltas appends the deltas in one transaction holding the head row.
func (s *Store) AppendDeltas(
	ctx context.Context,
	k key.Key,
	base int64,
	deltas []store.Delta,
) (int64, error) {
	docKey := k.CombinedKey()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append of %s: %w", docKey, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(
		ctx,
		`INSERT INTO wavelet_heads (doc_key, version) VALUES ($1, 0) ON CONFLICT (doc_key) DO NOTHING`,
		docKey,
	); err != nil {
		return 0, fmt.Errorf("ensure head of %s: %w", docKey, err)
	}

	var current int64
	if err := tx.QueryRow(
		ctx,
		`SELECT version FROM wavelet_heads WHERE doc_key = $1 FOR UPDATE`,
		docKey,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("lock head of %s: %w", docKey, err)
	}
	if current != base {
		return 0, fmt.Errorf("append to %s at %d, recorded %d: %w", docKey, base, current, store.ErrVersionMismatch)
	}

	now := time.Now()
	rows := make([][]any, len(deltas))
	for i, d := range deltas {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows[i] = []any{docKey, base + int64(i) + 1, d.Payload, d.Origin, createdAt}
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"wavelet_deltas"},
		[]string{"doc_key", "version", "payload", "origin", "created_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("insert deltas of %s: %w", docKey, err)
	}

	version := base + int64(len(deltas))
	if _, err := tx.Exec(
		ctx,
		`UPDATE wavelet_heads SET version = $2 WHERE doc_key = $1`,
		docKey, version,
	); err != nil {
		return 0, fmt.Errorf("update head of %s: %w", docKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append of %s: %w", docKey, err)
	}
	return version, nil
}

// WriteSnapshot records the blob as the state at version.
func (s *Store) WriteSnapshot(ctx context.Context, k key.Key, version int64, blob []byte) error {
	docKey := k.CombinedKey()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot of %s: %w", docKey, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(
		ctx,
		`INSERT INTO wavelet_snapshots (doc_key, version, blob, checkpoint_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doc_key) DO UPDATE
		SET version = EXCLUDED.version, blob = EXCLUDED.blob, checkpoint_time = EXCLUDED.checkpoint_time
		WHERE wavelet_snapshots.version <= EXCLUDED.version`,
		docKey, version, blob, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot of %s: %w", docKey, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %d of %s: %w", version, docKey, store.ErrStaleSnapshot)
	}

	if _, err := tx.Exec(
		ctx,
		`DELETE FROM wavelet_deltas WHERE doc_key = $1 AND version <= $2`,
		docKey, version,
	); err != nil {
		return fmt.Errorf("delete compacted deltas of %s: %w", docKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot of %s: %w", docKey, err)
	}
	return nil
}

// RaiseVersionFloor records version as the floor of the next group.
func (s *Store) RaiseVersionFloor(ctx context.Context, k key.Key, version int64) error {
	if _, err := s.pool.Exec(
		ctx,
		`INSERT INTO wavelet_floors (doc_key, version) VALUES ($1, $2)
		ON CONFLICT (doc_key) DO UPDATE SET version = EXCLUDED.version
		WHERE wavelet_floors.version < EXCLUDED.version`,
		k.CombinedKey(), version,
	); err != nil {
		return fmt.Errorf("raise floor of %s: %w", k, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
