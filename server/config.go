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

package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wavelet-team/wavelet/server/backend"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/fanout/nats"
	"github.com/wavelet-team/wavelet/server/backend/fanout/redis"
	"github.com/wavelet-team/wavelet/server/backend/housekeeping"
	"github.com/wavelet-team/wavelet/server/backend/persistence"
	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/backend/store/badger"
	"github.com/wavelet-team/wavelet/server/backend/store/mongo"
	"github.com/wavelet-team/wavelet/server/backend/store/postgres"
	"github.com/wavelet-team/wavelet/server/profiling"
	"github.com/wavelet-team/wavelet/server/rpc"
	"github.com/wavelet-team/wavelet/server/session"
)

// EnvPrefix is the prefix of environment variables overriding the
// configuration, such as WAVELET_RPC_PORT.
const EnvPrefix = "WAVELET_"

// Below are the values of the default values of Wavelet config.
const (
	DefaultRPCPort       = rpc.DefaultPort
	DefaultGRPCPort      = rpc.DefaultGRPCPort
	DefaultProfilingPort = profiling.DefaultPort
)

// Config is the configuration for creating a Wavelet instance.
type Config struct {
	RPC          *rpc.Config          `yaml:"RPC"`
	Profiling    *profiling.Config    `yaml:"Profiling"`
	Session      *session.Config      `yaml:"Session"`
	Backend      *backend.Config      `yaml:"Backend"`
	Access       *access.Config       `yaml:"Access"`
	Persistence  *persistence.Config  `yaml:"Persistence"`
	Registry     *registry.Config     `yaml:"Registry"`
	Housekeeping *housekeeping.Config `yaml:"Housekeeping"`

	// Durable stores. The first configured one is used.
	Mongo    *mongo.Config    `yaml:"Mongo"`
	Postgres *postgres.Config `yaml:"Postgres"`
	Badger   *badger.Config   `yaml:"Badger"`

	// Fan-out buses. The first configured one is used.
	Redis *redis.Config `yaml:"Redis"`
	NATS  *nats.Config  `yaml:"NATS"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	conf := &Config{}
	conf.ensureDefaultValue()
	return conf
}

// NewConfigFromFile returns a Config struct for the given conf file with
// WAVELET_ environment variables applied on top of it. An empty path reads
// the environment variables only.
func NewConfigFromFile(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(filepath.Clean(path)), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Keys are matched case-insensitively so that WAVELET_RPC_PORT reaches
	// RPC.Port of the file.
	merged := koanf.New(".")
	for _, key := range k.Keys() {
		if err := merged.Set(strings.ToLower(key), k.Get(key)); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := merged.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	conf := &Config{}
	if err := merged.UnmarshalWithConf("", conf, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// envKey converts WAVELET_RPC_AUTHSECRET to rpc.authsecret.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// RPCAddr returns the address of websocket sessions.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("localhost:%d", c.RPC.Port)
}

// Stores returns the configured durable stores.
func (c *Config) Stores() backend.Stores {
	return backend.Stores{Mongo: c.Mongo, Postgres: c.Postgres, Badger: c.Badger}
}

// Buses returns the configured fan-out buses.
func (c *Config) Buses() backend.Buses {
	return backend.Buses{Redis: c.Redis, NATS: c.NATS}
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.RPC,
		c.Profiling,
		c.Session,
		c.Backend,
		c.Access,
		c.Persistence,
		c.Registry,
		c.Housekeeping,
	}
	if c.Mongo != nil {
		validators = append(validators, c.Mongo)
	}
	if c.Postgres != nil {
		validators = append(validators, c.Postgres)
	}
	if c.Badger != nil {
		validators = append(validators, c.Badger)
	}
	if c.Redis != nil {
		validators = append(validators, c.Redis)
	}
	if c.NATS != nil {
		validators = append(validators, c.NATS)
	}

	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ensureDefaultValue sets the value of the option to which the default value
// should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.RPC == nil {
		c.RPC = &rpc.Config{}
	}
	c.RPC.EnsureDefaultValue()

	if c.Profiling == nil {
		c.Profiling = &profiling.Config{}
	}
	if c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}

	if c.Session == nil {
		c.Session = &session.Config{}
	}
	c.Session.EnsureDefaultValue()

	if c.Backend == nil {
		c.Backend = &backend.Config{}
	}
	c.Backend.EnsureDefaultValue()

	if c.Access == nil {
		c.Access = &access.Config{}
	}
	c.Access.EnsureDefaultValue()

	if c.Persistence == nil {
		c.Persistence = &persistence.Config{}
	}
	c.Persistence.EnsureDefaultValue()

	if c.Registry == nil {
		c.Registry = &registry.Config{}
	}
	c.Registry.EnsureDefaultValue()

	if c.Housekeeping == nil {
		c.Housekeeping = &housekeeping.Config{}
	}
	c.Housekeeping.EnsureDefaultValue()

	if c.Mongo != nil {
		if c.Mongo.ConnectionURI == "" {
			c.Mongo.ConnectionURI = mongo.DefaultConnectionURI
		}
		if c.Mongo.ConnectionTimeout == "" {
			c.Mongo.ConnectionTimeout = mongo.DefaultConnectionTimeout
		}
		if c.Mongo.PingTimeout == "" {
			c.Mongo.PingTimeout = mongo.DefaultPingTimeout
		}
		if c.Mongo.Database == "" {
			c.Mongo.Database = mongo.DefaultDatabase
		}
	}

	if c.Postgres != nil {
		if c.Postgres.ConnectionTimeout == "" {
			c.Postgres.ConnectionTimeout = postgres.DefaultConnectionTimeout
		}
		if c.Postgres.MaxConns == 0 {
			c.Postgres.MaxConns = postgres.DefaultMaxConns
		}
	}

	if c.Redis != nil && c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = redis.DefaultChannelPrefix
	}

	if c.NATS != nil && c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = nats.DefaultSubjectPrefix
	}
}
