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


package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/server/rpc/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	t.Run("token test", func(t *testing.T) {
		out, err := execute(t, "token", "--auth-secret", "secret", "alice")
		require.NoError(t, err)

		claims, err := auth.NewTokenManager("secret", time.Hour).Verify(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.User)
	})

	t.Run("token without secret test", func(t *testing.T) {
		tokenSecret = ""
		_, err := execute(t, "token", "alice")
		assert.Error(t, err)
	})

	t.Run("version test", func(t *testing.T) {
		out, err := execute(t, "version", "--output", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "wavelet_version")

		_, err = execute(t, "version", "--output", "xml")
		assert.Error(t, err)
		output = ""
	})

	t.Run("config test", func(t *testing.T) {
		t.Setenv("WAVELET_RPC_PORT", "9090")
		out, err := execute(t, "config")
		require.NoError(t, err)
		assert.Contains(t, out, "Port: 9090")
	})
}
