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

package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/server/backend/store/postgres"
	"github.com/wavelet-team/wavelet/server/backend/store/testcases"
)

func TestStore(t *testing.T) {
	uri := os.Getenv("WAVELET_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("WAVELET_TEST_POSTGRES_URI is not set")
	}

	truncate(t, uri)

	s, err := postgres.Dial(&postgres.Config{
		ConnectionURI:     uri,
		ConnectionTimeout: postgres.DefaultConnectionTimeout,
		MaxConns:          postgres.DefaultMaxConns,
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, s.Close())
	}()

	testcases.RunAll(t, s)
}

func truncate(t *testing.T, uri string) {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, uri)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, conn.Close(ctx))
	}()

	for _, table := range []string{"wavelet_heads", "wavelet_snapshots", "wavelet_deltas"} {
		_, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		require.NoError(t, err)
	}
}

func TestConfig(t *testing.T) {
	t.Run("validate test", func(t *testing.T) {
		conf := &postgres.Config{ConnectionTimeout: "1s"}
		assert.ErrorIs(t, conf.Validate(), postgres.ErrEmptyConnectionURI)

		conf.ConnectionURI = "postgres://localhost:5432/wavelet"
		assert.NoError(t, conf.Validate())

		conf.ConnectionTimeout = "soon"
		assert.Error(t, conf.Validate())
	})
}
