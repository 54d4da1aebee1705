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
	"errors"
	"fmt"
	"os"
	"time"
)

// Default values of the configuration.
const (
	DefaultPort                  = 8080
	DefaultGRPCPort              = 11101
	DefaultMaxRequestBytes       = 4 * 1024 * 1024
	DefaultMaxConnectionAge      = "0s"
	DefaultMaxConnectionAgeGrace = "0s"
	DefaultHandshakeRate         = 100
	DefaultTokenDuration         = "24h"
)

var (
	// ErrInvalidRPCPort occurs when the port in the config is invalid.
	ErrInvalidRPCPort = errors.New("invalid port number for RPC server")
	// ErrInvalidCertFile occurs when the certificate file is invalid.
	ErrInvalidCertFile = errors.New("invalid cert file for RPC server")
	// ErrInvalidKeyFile occurs when the key file is invalid.
	ErrInvalidKeyFile = errors.New("invalid key file for RPC server")
	// ErrInvalidMaxConnectionAge occurs when the max connection age is invalid.
	ErrInvalidMaxConnectionAge = errors.New("invalid max connection age for RPC server")
	// ErrInvalidMaxConnectionAgeGrace occurs when the max connection age grace is invalid.
	ErrInvalidMaxConnectionAgeGrace = errors.New("invalid max connection age grace for RPC server")
)

// Config is the configuration for creating a Server instance.
type Config struct {
	// Port is the port of the HTTP server that serves websocket sessions,
	// the admin endpoints and the health check.
	Port int `yaml:"Port"`

	// GRPCPort is the port of the gRPC server that serves stream sessions.
	GRPCPort int `yaml:"GRPCPort"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"CertFile"`

	// KeyFile is the path to the key file.
	KeyFile string `yaml:"KeyFile"`

	// MaxRequestBytes is the maximum size of a frame the server accepts.
	MaxRequestBytes uint64 `yaml:"MaxRequestBytes"`

	// MaxConnectionAge is a duration for the maximum amount of time a connection may exist
	// before it will be closed by sending a GoAway. Zero means no limit.
	MaxConnectionAge string `yaml:"MaxConnectionAge"`

	// MaxConnectionAgeGrace is a duration for the amount of time after receiving a GoAway
	// for pending RPCs to complete before forcibly closing connections.
	MaxConnectionAgeGrace string `yaml:"MaxConnectionAgeGrace"`

	// HandshakeRate is the number of websocket handshakes allowed per
	// minute from one address.
	HandshakeRate int `yaml:"HandshakeRate"`

	// AllowedOrigins are the origins of accepted websocket handshakes. Empty
	// accepts every origin.
	AllowedOrigins []string `yaml:"AllowedOrigins"`

	// AuthSecret signs the tokens of clients. Empty disables token checks
	// and clients name themselves with the user parameter.
	AuthSecret string `yaml:"AuthSecret"`

	// TokenDuration is the lifetime of issued tokens.
	TokenDuration string `yaml:"TokenDuration"`
}

// EnsureDefaultValue fills empty fields with the default values.
func (c *Config) EnsureDefaultValue() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = DefaultGRPCPort
	}
	if c.MaxRequestBytes == 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.MaxConnectionAge == "" {
		c.MaxConnectionAge = DefaultMaxConnectionAge
	}
	if c.MaxConnectionAgeGrace == "" {
		c.MaxConnectionAgeGrace = DefaultMaxConnectionAgeGrace
	}
	if c.HandshakeRate == 0 {
		c.HandshakeRate = DefaultHandshakeRate
	}
	if c.TokenDuration == "" {
		c.TokenDuration = DefaultTokenDuration
	}
}

// Validate validates the port number and the files for certification.
func (c *Config) Validate() error {
	if c.Port < 1 || 65535 < c.Port {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidRPCPort)
	}
	if c.GRPCPort < 1 || 65535 < c.GRPCPort {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.GRPCPort, ErrInvalidRPCPort)
	}

	// when specific cert or key file are configured
	if c.CertFile != "" {
		if _, err := os.Stat(c.CertFile); err != nil {
			return fmt.Errorf("%s: %w", c.CertFile, ErrInvalidCertFile)
		}
	}

	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("%s: %w", c.KeyFile, ErrInvalidKeyFile)
		}
	}

	if _, err := time.ParseDuration(c.MaxConnectionAge); err != nil {
		return fmt.Errorf("%s: %w", c.MaxConnectionAge, ErrInvalidMaxConnectionAge)
	}

	if _, err := time.ParseDuration(c.MaxConnectionAgeGrace); err != nil {
		return fmt.Errorf("%s: %w", c.MaxConnectionAgeGrace, ErrInvalidMaxConnectionAgeGrace)
	}

	if c.HandshakeRate < 0 {
		return fmt.Errorf(`invalid argument "%d" for "--handshake-rate" flag`, c.HandshakeRate)
	}

	if _, err := time.ParseDuration(c.TokenDuration); err != nil {
		return fmt.Errorf(`invalid argument "%s" for "--token-duration" flag: %w`, c.TokenDuration, err)
	}

	return nil
}

// ParseTokenDuration returns the lifetime of issued tokens.
func (c *Config) ParseTokenDuration() time.Duration {
	d, err := time.ParseDuration(c.TokenDuration)
	if err != nil {
		panic(fmt.Sprintf("parse token duration %s: %v", c.TokenDuration, err))
	}
	return d
}

func (c *Config) parseConnectionAge() (time.Duration, time.Duration) {
	age, err := time.ParseDuration(c.MaxConnectionAge)
	if err != nil {
		panic(fmt.Sprintf("parse max connection age %s: %v", c.MaxConnectionAge, err))
	}
	grace, err := time.ParseDuration(c.MaxConnectionAgeGrace)
	if err != nil {
		panic(fmt.Sprintf("parse max connection age grace %s: %v", c.MaxConnectionAgeGrace, err))
	}
	return age, grace
}
