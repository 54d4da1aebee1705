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

// Package server provides the Wavelet server which is the main entry point of
// the Wavelet system. The server is responsible for starting the backend,
// the RPC server and the profiling server.
package server

import (
	"context"
	"errors"
	gosync "sync"

	"github.com/wavelet-team/wavelet/server/backend"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
	"github.com/wavelet-team/wavelet/server/rpc"
)

// Wavelet is a server of Wavelet. It keeps one synchronization group per
// document in memory, merges the updates of connected sessions, shares them
// with other processes and stores them durably.
type Wavelet struct {
	lock gosync.Mutex

	conf            *Config
	backend         *backend.Backend
	rpcServer       *rpc.Server
	profilingServer *profiling.Server

	shutdown   bool
	shutdownCh chan struct{}
}

// New creates a new instance of Wavelet.
func New(conf *Config) (*Wavelet, error) {
	conf.ensureDefaultValue()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return nil, err
	}

	be, err := backend.New(
		conf.Backend,
		conf.Access,
		conf.Persistence,
		conf.Registry,
		conf.Housekeeping,
		conf.Stores(),
		conf.Buses(),
		metrics,
	)
	if err != nil {
		return nil, err
	}

	rpcServer, err := rpc.NewServer(conf.RPC, conf.Session, be)
	if err != nil {
		return nil, errors.Join(err, be.Shutdown(context.Background()))
	}

	var profilingServer *profiling.Server
	if conf.Profiling != nil {
		profilingServer = profiling.NewServer(conf.Profiling, metrics)
	}

	return &Wavelet{
		conf:            conf,
		backend:         be,
		rpcServer:       rpcServer,
		profilingServer: profilingServer,
		shutdownCh:      make(chan struct{}),
	}, nil
}

// Start starts the server by opening the rpc ports.
func (r *Wavelet) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.backend.Start(); err != nil {
		return err
	}

	if r.profilingServer != nil {
		if err := r.profilingServer.Start(); err != nil {
			return err
		}
	}

	logging.DefaultLogger().Infof("wavelet process %s started", r.backend.ProcessID)
	return r.rpcServer.Start()
}

// Shutdown shuts down this Wavelet server. Sessions end first, then every
// resident group is flushed to the durable store.
func (r *Wavelet) Shutdown(ctx context.Context, graceful bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.shutdown {
		return nil
	}

	r.rpcServer.Shutdown(graceful)
	if r.profilingServer != nil {
		r.profilingServer.Shutdown(graceful)
	}

	if err := r.backend.Shutdown(ctx); err != nil {
		return err
	}

	close(r.shutdownCh)
	r.shutdown = true
	return nil
}

// ShutdownCh returns the shutdown channel.
func (r *Wavelet) ShutdownCh() <-chan struct{} {
	return r.shutdownCh
}

// RPCAddr returns the address of websocket sessions.
func (r *Wavelet) RPCAddr() string {
	return r.conf.RPCAddr()
}
