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

// Package backend provides the backend implementation of Wavelet. It wires
// the durable store, the fan-out bus, the authorizer and the group registry
// and owns their lifecycle.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wavelet-team/wavelet/pkg/document"
	"github.com/wavelet-team/wavelet/pkg/document/automerge"
	"github.com/wavelet-team/wavelet/pkg/document/rga"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/background"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	fanoutmemory "github.com/wavelet-team/wavelet/server/backend/fanout/memory"
	"github.com/wavelet-team/wavelet/server/backend/fanout/nats"
	"github.com/wavelet-team/wavelet/server/backend/fanout/redis"
	"github.com/wavelet-team/wavelet/server/backend/housekeeping"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/backend/store"
	"github.com/wavelet-team/wavelet/server/backend/store/badger"
	storememory "github.com/wavelet-team/wavelet/server/backend/store/memory"
	"github.com/wavelet-team/wavelet/server/backend/store/mongo"
	"github.com/wavelet-team/wavelet/server/backend/store/postgres"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// Stores holds the configuration of the durable store. The first one given
// in the order Mongo, Postgres, Badger is used. Without any, an in-memory
// store is used.
type Stores struct {
	Mongo    *mongo.Config
	Postgres *postgres.Config
	Badger   *badger.Config
}

// Buses holds the configuration of the fan-out bus. Redis is preferred over
// NATS. Without any, groups of the process only reach each other through an
// in-process broker.
type Buses struct {
	Redis *redis.Config
	NATS  *nats.Config
}

// Backend manages Wavelet's backend such as Store and Registry.
type Backend struct {
	Config *Config

	// ProcessID is the origin of envelopes published by this process.
	ProcessID string

	// Metrics is used to expose metrics.
	Metrics *prometheus.Metrics
	// Background is used to manage background tasks.
	Background *background.Background
	// Housekeeping is used to manage periodic tasks.
	Housekeeping *housekeeping.Housekeeping

	// Store is the durable store of documents.
	Store store.Store
	// Bus delivers envelopes between processes.
	Bus fanout.Bus
	// Publisher queues envelopes of local deltas for the bus.
	Publisher *fanout.Publisher
	// Authorizer checks the access of users to documents.
	Authorizer access.Authorizer
	// Engine is the merge engine of documents.
	Engine document.Engine

	// Coordinator writes pending deltas to the store.
	Coordinator *persistence.Coordinator
	// Registry holds the resident groups.
	Registry *registry.Registry
}

// New creates a new instance of Backend.
func New(
	conf *Config,
	accessConf *access.Config,
	persistenceConf *persistence.Config,
	registryConf *registry.Config,
	housekeepingConf *housekeeping.Config,
	stores Stores,
	buses Buses,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	// 01. Resolve the process id and the engine.
	processID := conf.ProcessID
	if processID == "" {
		processID = uuid.New().String()
	}

	engine, err := document.NewEngines(rga.Engine{}, automerge.Engine{}).Get(conf.Engine)
	if err != nil {
		return nil, err
	}

	authorizer, err := access.New(accessConf)
	if err != nil {
		return nil, err
	}

	// 02. Create the durable store and the fan-out bus.
	st, storeInfo, err := openStore(stores)
	if err != nil {
		return nil, err
	}

	bus, busInfo, err := dialBus(buses)
	if err != nil {
		closeOnFailure(st, nil)
		return nil, err
	}

	// 03. Create the background task manager, the persistence coordinator and
	// the registry.
	bg := background.New(metrics)
	publisher := fanout.NewPublisher(bus, conf.PublishQueueSize, metrics)
	coordinator := persistence.New(persistenceConf, st, engine, bg, metrics)
	reg := registry.New(registryConf, registry.Options{
		ProcessID:   processID,
		Engine:      engine,
		Coordinator: coordinator,
		Bus:         bus,
		Publisher:   publisher,
		Background:  bg,
		Metrics:     metrics,
	})

	// 04. Register the housekeeping tasks.
	housekeeper, err := newHousekeeping(housekeepingConf, reg, coordinator)
	if err != nil {
		coordinator.Close()
		bg.Close()
		closeOnFailure(st, bus)
		return nil, err
	}

	logging.DefaultLogger().Infof(
		"backend created: process: %s, engine: %s, store: %s, bus: %s",
		processID,
		engine.Name(),
		storeInfo,
		busInfo,
	)

	return &Backend{
		Config:    conf,
		ProcessID: processID,

		Metrics:      metrics,
		Background:   bg,
		Housekeeping: housekeeper,

		Store:      st,
		Bus:        bus,
		Publisher:  publisher,
		Authorizer: authorizer,
		Engine:     engine,

		Coordinator: coordinator,
		Registry:    reg,
	}, nil
}

// closeOnFailure closes the store and the bus opened by a backend that could
// not be created.
func closeOnFailure(st store.Store, bus fanout.Bus) {
	if bus != nil {
		if err := bus.Close(); err != nil {
			logging.DefaultLogger().Warnf("close bus: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		logging.DefaultLogger().Warnf("close store: %v", err)
	}
}

func openStore(stores Stores) (store.Store, string, error) {
	switch {
	case stores.Mongo != nil:
		st, err := mongo.Dial(stores.Mongo)
		if err != nil {
			return nil, "", err
		}
		return st, "mongo " + stores.Mongo.Database, nil
	case stores.Postgres != nil:
		st, err := postgres.Dial(stores.Postgres)
		if err != nil {
			return nil, "", err
		}
		return st, "postgres", nil
	case stores.Badger != nil:
		st, err := badger.Open(stores.Badger)
		if err != nil {
			return nil, "", err
		}
		if stores.Badger.InMemory {
			return st, "badger in memory", nil
		}
		return st, "badger " + stores.Badger.Path, nil
	default:
		st, err := storememory.New()
		if err != nil {
			return nil, "", err
		}
		return st, "memory", nil
	}
}

func dialBus(buses Buses) (fanout.Bus, string, error) {
	switch {
	case buses.Redis != nil:
		bus, err := redis.Dial(context.Background(), buses.Redis)
		if err != nil {
			return nil, "", err
		}
		return bus, "redis " + buses.Redis.Addr, nil
	case buses.NATS != nil:
		bus, err := nats.Dial(buses.NATS)
		if err != nil {
			return nil, "", err
		}
		return bus, "nats " + buses.NATS.URL, nil
	default:
		return fanoutmemory.NewBroker().Connect(), "memory", nil
	}
}

func newHousekeeping(
	conf *housekeeping.Config,
	reg *registry.Registry,
	coordinator *persistence.Coordinator,
) (*housekeeping.Housekeeping, error) {
	interval, err := conf.ParseInterval()
	if err != nil {
		return nil, err
	}
	compactionInterval, err := conf.ParseCompactionInterval()
	if err != nil {
		return nil, err
	}

	h := housekeeping.New()
	if err := h.RegisterTask("idle-sweep", interval, reg.ReleaseIfIdle); err != nil {
		return nil, err
	}
	if err := h.RegisterTask("compaction", compactionInterval, coordinator.CompactDue); err != nil {
		return nil, err
	}
	return h, nil
}

// Start starts the backend.
func (b *Backend) Start() error {
	if !b.Background.AttachGoroutine(b.Publisher.Run, "fanout-publisher") {
		return fmt.Errorf("start publisher: %w", background.ErrClosed)
	}

	if err := b.Housekeeping.Start(); err != nil {
		return err
	}

	logging.DefaultLogger().Infof("backend started")
	return nil
}

// Shutdown flushes the resident groups and closes all resources of this
// instance.
func (b *Backend) Shutdown(ctx context.Context) error {
	var errs []error

	if err := b.Housekeeping.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := b.Registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	b.Coordinator.Close()

	// The publisher drains its queue once the background context is done, so
	// the bus is closed after it.
	b.Background.Close()

	if err := b.Bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.Store.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logging.DefaultLogger().Infof("backend stopped")
	return nil
}
