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

package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wavelet-team/wavelet/server/backend/store/mongo"
	"github.com/wavelet-team/wavelet/server/backend/store/testcases"
)

const testDatabase = "wavelet-test"

func TestClient(t *testing.T) {
	uri := os.Getenv("WAVELET_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("WAVELET_TEST_MONGO_URI is not set")
	}

	dropDatabase(t, uri)

	cli, err := mongo.Dial(&mongo.Config{
		ConnectionTimeout: mongo.DefaultConnectionTimeout,
		ConnectionURI:     uri,
		Database:          testDatabase,
		PingTimeout:       mongo.DefaultPingTimeout,
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, cli.Close())
	}()

	testcases.RunAll(t, cli)
}

func dropDatabase(t *testing.T, uri string) {
	ctx := context.Background()
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, client.Disconnect(ctx))
	}()

	require.NoError(t, client.Database(testDatabase).Drop(ctx))
}

func TestConfig(t *testing.T) {
	t.Run("validate test", func(t *testing.T) {
		conf := &mongo.Config{
			ConnectionTimeout: "1s",
			PingTimeout:       "1s",
		}
		assert.NoError(t, conf.Validate())

		conf.ConnectionTimeout = "1 hour"
		assert.Error(t, conf.Validate())

		conf.ConnectionTimeout = "1s"
		conf.PingTimeout = "-"
		assert.Error(t, conf.Validate())
	})
}
