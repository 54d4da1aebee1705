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

// Package mongo implements the store using MongoDB.
//
// Documents have a head record holding the last version handed out. Appends
// reserve their versions by a compare-and-swap on the head and then insert
// the delta rows, so that concurrent writers never interleave.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/logging"
)

type headDoc struct {
	DocKey  string `bson:"_id"`
	Version int64  `bson:"version"`
}

type snapshotDoc struct {
	DocKey         string    `bson:"_id"`
	Version        int64     `bson:"version"`
	Blob           []byte    `bson:"blob"`
	CheckpointTime time.Time `bson:"checkpoint_time"`
}

type deltaDoc struct {
	DocKey    string    `bson:"doc_key"`
	Version   int64     `bson:"version"`
	Payload   []byte    `bson:"payload"`
	Origin    string    `bson:"origin"`
	CreatedAt time.Time `bson:"created_at"`
}

// Client is a client that connects to Mongo DB and reads or saves documents.
type Client struct {
	config *Config
	client *mongo.Client
}

// Dial creates an instance of Client and dials the given MongoDB.
func Dial(conf *Config) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), conf.ParseConnectionTimeout())
	defer cancel()

	client, err := mongo.Connect(
		ctx,
		options.Client().ApplyURI(conf.ConnectionURI),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(ctx, conf.ParsePingTimeout())
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	if err := ensureIndexes(ctx, client.Database(conf.Database)); err != nil {
		return nil, err
	}

	logging.DefaultLogger().Infof("MongoDB connected, URI: %s, DB: %s", conf.ConnectionURI, conf.Database)

	return &Client{
		config: conf,
		client: client,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	if err := c.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}

	return nil
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.client.Database(c.config.Database).Collection(name)
}

// Load returns the latest snapshot and the deltas after it.
func (c *Client) Load(ctx context.Context, k key.Key) (*store.Record, error) {
	docKey := k.CombinedKey()
	record := &store.Record{Key: k}

	version, err := c.Version(ctx, k)
	if err != nil {
		return nil, err
	}
	record.Version = version

	var floor headDoc
	err = c.collection(ColFloors).FindOne(ctx, bson.M{"_id": docKey}).Decode(&floor)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("find floor of %s: %w", docKey, err)
	}
	record.VersionFloor = floor.Version

	var snapshot snapshotDoc
	err = c.collection(ColSnapshots).FindOne(ctx, bson.M{"_id": docKey}).Decode(&snapshot)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("find snapshot of %s: %w", docKey, err)
	}
	if err == nil {
		record.SnapshotVersion = snapshot.Version
		record.Snapshot = snapshot.Blob
		record.CheckpointTime = snapshot.CheckpointTime
	}

	cursor, err := c.collection(ColDeltas).Find(ctx, bson.M{
		"doc_key": docKey,
		"version": bson.M{"$gt": record.SnapshotVersion},
	}, options.Find().SetSort(bson.D{{Key: "version", Value: bsonAsc}}))
	if err != nil {
		return nil, fmt.Errorf("find deltas of %s: %w", docKey, err)
	}

	var rows []deltaDoc
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("fetch deltas of %s: %w", docKey, err)
	}
	for _, row := range rows {
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
func (c *Client) Version(ctx context.Context, k key.Key) (int64, error) {
	var head headDoc
	err := c.collection(ColHeads).FindOne(ctx, bson.M{"_id": k.CombinedKey()}).Decode(&head)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find head of %s: %w", k, err)
	}
	return head.Version, nil
}

// AppendDeltas reserves the versions base+1..base+n on the head and inserts
// the delta rows.
func (c *Client) AppendDeltas(
	ctx context.Context,
	k key.Key,
	base int64,
	deltas []store.Delta,
) (int64, error) {
	docKey := k.CombinedKey()
	version := base + int64(len(deltas))

	// A missing head is created by the upsert. An existing head at a different
	// version makes the upsert collide on _id.
	_, err := c.collection(ColHeads).UpdateOne(
		ctx,
		bson.M{"_id": docKey, "version": base},
		bson.M{"$set": bson.M{"version": version}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return 0, fmt.Errorf("append to %s at %d: %w", docKey, base, store.ErrVersionMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("reserve versions of %s: %w", docKey, err)
	}

	now := time.Now()
	rows := make([]interface{}, len(deltas))
	for i, d := range deltas {
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows[i] = deltaDoc{
			DocKey:    docKey,
			Version:   base + int64(i) + 1,
			Payload:   d.Payload,
			Origin:    d.Origin,
			CreatedAt: createdAt,
		}
	}

	if _, err := c.collection(ColDeltas).InsertMany(ctx, rows); err != nil {
		c.releaseVersions(docKey, base, version)
		return 0, fmt.Errorf("insert deltas of %s: %w", docKey, err)
	}

	return version, nil
}

// releaseVersions gives back versions reserved by a failed append if nobody
// appended on top of them.
func (c *Client) releaseVersions(docKey string, base, reserved int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ParsePingTimeout())
	defer cancel()

	if _, err := c.collection(ColDeltas).DeleteMany(ctx, bson.M{
		"doc_key": docKey,
		"version": bson.M{"$gt": base, "$lte": reserved},
	}); err != nil {
		logging.DefaultLogger().Warnf("delete partial deltas of %s: %v", docKey, err)
		return
	}

	if _, err := c.collection(ColHeads).UpdateOne(
		ctx,
		bson.M{"_id": docKey, "version": reserved},
		bson.M{"$set": bson.M{"version": base}},
	); err != nil {
		logging.DefaultLogger().Warnf("release versions of %s: %v", docKey, err)
	}
}

// WriteSnapshot records the blob as the state at version.
func (c *Client) WriteSnapshot(ctx context.Context, k key.Key, version int64, blob []byte) error {
	docKey := k.CombinedKey()

	_, err := c.collection(ColSnapshots).UpdateOne(
		ctx,
		bson.M{"_id": docKey, "version": bson.M{"$lte": version}},
		bson.M{"$set": bson.M{
			"version":         version,
			"blob":            blob,
			"checkpoint_time": time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("snapshot %d of %s: %w", version, docKey, store.ErrStaleSnapshot)
	}
	if err != nil {
		return fmt.Errorf("write snapshot of %s: %w", docKey, err)
	}

	if _, err := c.collection(ColDeltas).DeleteMany(ctx, bson.M{
		"doc_key": docKey,
		"version": bson.M{"$lte": version},
	}); err != nil {
		return fmt.Errorf("delete compacted deltas of %s: %w", docKey, err)
	}

	return nil
}

// RaiseVersionFloor records version as the floor of the next group.
func (c *Client) RaiseVersionFloor(ctx context.Context, k key.Key, version int64) error {
	docKey := k.CombinedKey()

	// A floor at or above version makes the upsert collide on _id, which
	// leaves the floor as it is.
	_, err := c.collection(ColFloors).UpdateOne(
		ctx,
		bson.M{"_id": docKey, "version": bson.M{"$lt": version}},
		bson.M{"$set": bson.M{"version": version}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("raise floor of %s: %w", docKey, err)
	}

	return nil
}
