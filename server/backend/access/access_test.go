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

package access_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/access"
)

func TestDecision(t *testing.T) {
	t.Run("clamp to requested mode test", func(t *testing.T) {
		assert.Equal(t, access.AllowRead, access.AllowWrite.Clamp(access.ModeRead))
		assert.Equal(t, access.AllowWrite, access.AllowWrite.Clamp(access.ModeWrite))
		assert.Equal(t, access.Deny, access.Deny.Clamp(access.ModeRead))
		assert.False(t, access.Deny.Allowed())
		assert.True(t, access.AllowRead.Allowed())
	})

	t.Run("parse mode test", func(t *testing.T) {
		mode, err := access.ParseMode("")
		require.NoError(t, err)
		assert.Equal(t, access.ModeWrite, mode)

		mode, err = access.ParseMode("read")
		require.NoError(t, err)
		assert.Equal(t, access.ModeRead, mode)

		_, err = access.ParseMode("admin")
		assert.Error(t, err)
	})
}

func TestCasbin(t *testing.T) {
	ctx := context.Background()
	roadmap := key.New("acme", "roadmap")
	other := key.New("globex", "plan")

	authorizer, err := access.NewCasbin(&access.CasbinConfig{
		Policies: []string{
			"p, editors, /acme/*, write",
			"p, viewers, /acme/*, read",
			"g, alice, editors",
			"g, bob, viewers",
		},
	})
	require.NoError(t, err)

	t.Run("role grants write test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "alice", roadmap, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.AllowWrite, decision)

		decision, err = authorizer.Check(ctx, "alice", roadmap, access.ModeRead)
		require.NoError(t, err)
		assert.Equal(t, access.AllowRead, decision)
	})

	t.Run("read grant makes read only member test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "bob", roadmap, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.AllowRead, decision)
	})

	t.Run("unknown user and workspace are denied test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "mallory", roadmap, access.ModeRead)
		require.NoError(t, err)
		assert.Equal(t, access.Deny, decision)

		decision, err = authorizer.Check(ctx, "alice", other, access.ModeRead)
		require.NoError(t, err)
		assert.Equal(t, access.Deny, decision)
	})

	t.Run("policy file test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.csv")
		require.NoError(t, os.WriteFile(path, []byte("p, carol, /globex/plan, write\n"), 0o600))

		fromFile, err := access.NewCasbin(&access.CasbinConfig{PolicyPath: path})
		require.NoError(t, err)

		decision, err := fromFile.Check(ctx, "carol", other, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.AllowWrite, decision)
	})
}

func TestWebhook(t *testing.T) {
	ctx := context.Background()
	roadmap := key.New("acme", "roadmap")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req access.CheckRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.User {
		case "alice":
			assert.NoError(t, json.NewEncoder(w).Encode(access.CheckResponse{Allowed: true, Mode: access.ModeWrite}))
		case "bob":
			assert.NoError(t, json.NewEncoder(w).Encode(access.CheckResponse{Allowed: true, Mode: access.ModeRead}))
		case "down":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	conf := &access.Config{Backend: access.BackendWebhook}
	conf.Webhook.URL = server.URL
	conf.EnsureDefaultValue()
	conf.Webhook.MaxRetries = 1
	conf.Webhook.BaseInterval = "1ms"
	conf.Webhook.MaxInterval = "2ms"
	require.NoError(t, conf.Validate())

	authorizer, err := access.New(conf)
	require.NoError(t, err)

	t.Run("grants from response test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "alice", roadmap, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.AllowWrite, decision)

		decision, err = authorizer.Check(ctx, "alice", roadmap, access.ModeRead)
		require.NoError(t, err)
		assert.Equal(t, access.AllowRead, decision)

		decision, err = authorizer.Check(ctx, "bob", roadmap, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.AllowRead, decision)
	})

	t.Run("forbidden status denies test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "mallory", roadmap, access.ModeWrite)
		require.NoError(t, err)
		assert.Equal(t, access.Deny, decision)
	})

	t.Run("unreachable collaborator fails closed test", func(t *testing.T) {
		decision, err := authorizer.Check(ctx, "down", roadmap, access.ModeWrite)
		assert.ErrorIs(t, err, access.ErrCheckFailed)
		assert.Equal(t, access.Deny, decision)
	})
}

func TestConfig(t *testing.T) {
	t.Run("validate test", func(t *testing.T) {
		conf := &access.Config{}
		conf.EnsureDefaultValue()
		assert.NoError(t, conf.Validate())

		conf.Backend = "ldap"
		assert.ErrorIs(t, conf.Validate(), access.ErrUnknownBackend)

		conf.Backend = access.BackendCasbin
		assert.ErrorIs(t, conf.Validate(), access.ErrEmptyPolicy)

		conf.Backend = access.BackendWebhook
		conf.Webhook.URL = "not a url"
		assert.Error(t, conf.Validate())
	})
}
