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

// Package httphealth serves the gRPC health status over HTTP GET.
package httphealth

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Path is the path of the health check.
const Path = "/healthz"

// Checker reports the serving status of a service.
type Checker interface {
	Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error)
}

// CheckResponse represents the response structure for health checks.
type CheckResponse struct {
	Status string `json:"status"`
}

// NewHandler creates a new HTTP handler for health checks.
func NewHandler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		checkResponse, err := checker.Check(r.Context(), &healthpb.HealthCheckRequest{
			Service: r.URL.Query().Get("service"),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		status := http.StatusOK
		if checkResponse.Status != healthpb.HealthCheckResponse_SERVING {
			status = http.StatusServiceUnavailable
		}

		resp, err := json.Marshal(CheckResponse{checkResponse.Status.String()})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if r.Method == http.MethodGet {
			_, _ = w.Write(resp)
		}
	})
}
