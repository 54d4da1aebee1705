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

package rpc

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/logging"
)

// GroupsPath is the path of the resident groups of the process.
const GroupsPath = "/admin/groups"

// GroupsResponse is the body of GroupsPath.
type GroupsResponse struct {
	ProcessID string                `json:"process_id"`
	Groups    []registry.GroupStats `json:"groups"`
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	resp := GroupsResponse{
		ProcessID: s.backend.ProcessID,
		Groups:    s.backend.Registry.Stats(),
	}
	if resp.Groups == nil {
		resp.Groups = []registry.GroupStats{}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		logging.From(r.Context()).Errorf("RPC: marshal groups: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// requireUser rejects admin requests without a valid token while tokens
// are enabled.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authenticator.Enabled() {
			if _, err := s.authenticator.Authenticate(r.Header.Get("Authorization"), ""); err != nil {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
