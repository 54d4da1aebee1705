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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wavelet-team/wavelet/server"
	"github.com/wavelet-team/wavelet/server/backend/fanout/nats"
	"github.com/wavelet-team/wavelet/server/backend/fanout/redis"
	"github.com/wavelet-team/wavelet/server/backend/store/badger"
	"github.com/wavelet-team/wavelet/server/backend/store/mongo"
	"github.com/wavelet-team/wavelet/server/backend/store/postgres"
	"github.com/wavelet-team/wavelet/server/logging"
)

var (
	gracefulTimeout = 10 * time.Second
)

var (
	flagConfPath  string
	flagLogLevel  string
	flagLogFormat string

	mongoConnectionURI string
	mongoDatabase      string
	postgresURI        string
	badgerPath         string
	badgerInMemory     bool
	redisAddr          string
	natsURL            string

	conf = server.NewConfig()
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server [options]",
		Short: "Start Wavelet server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mongoConnectionURI != "" {
				conf.Mongo = &mongo.Config{
					ConnectionURI: mongoConnectionURI,
					Database:      mongoDatabase,
				}
			}
			if postgresURI != "" {
				conf.Postgres = &postgres.Config{ConnectionURI: postgresURI}
			}
			if badgerPath != "" || badgerInMemory {
				conf.Badger = &badger.Config{Path: badgerPath, InMemory: badgerInMemory}
			}
			if redisAddr != "" {
				conf.Redis = &redis.Config{Addr: redisAddr}
			}
			if natsURL != "" {
				conf.NATS = &nats.Config{URL: natsURL}
			}

			// If config file is given, command-line arguments will be overwritten.
			if flagConfPath != "" {
				parsed, err := server.NewConfigFromFile(flagConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			if err := logging.SetLogLevel(flagLogLevel); err != nil {
				return err
			}
			if err := logging.SetLogFormat(flagLogFormat); err != nil {
				return err
			}

			w, err := server.New(conf)
			if err != nil {
				return err
			}

			if err := w.Start(); err != nil {
				return err
			}

			if code := handleSignal(w); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}
}

func handleSignal(w *server.Wavelet) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	select {
	case s := <-sigCh:
		sig = s
	case <-w.ShutdownCh():
		// wavelet is already shutdown
		return 0
	}

	graceful := false
	if sig == syscall.SIGINT || sig == syscall.SIGTERM {
		graceful = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer cancel()

	gracefulCh := make(chan struct{})
	go func() {
		if err := w.Shutdown(ctx, graceful); err != nil {
			logging.DefaultLogger().Errorf("shutdown: %v", err)
			return
		}
		close(gracefulCh)
	}()

	select {
	case <-sigCh:
		return 1
	case <-ctx.Done():
		return 1
	case <-gracefulCh:
		return 0
	}
}

func init() {
	cmd := newServerCmd()
	cmd.Flags().StringVarP(
		&flagConfPath,
		"config",
		"c",
		"",
		"Config path",
	)
	cmd.Flags().StringVarP(
		&flagLogLevel,
		"log-level",
		"l",
		"info",
		"Log level: debug, info, warn, error, panic, fatal",
	)
	cmd.Flags().StringVar(
		&flagLogFormat,
		"log-format",
		"console",
		"Log format: console or json",
	)
	cmd.Flags().IntVar(
		&conf.RPC.Port,
		"rpc-port",
		server.DefaultRPCPort,
		"Port of websocket sessions, admin endpoints and health checks",
	)
	cmd.Flags().IntVar(
		&conf.RPC.GRPCPort,
		"grpc-port",
		server.DefaultGRPCPort,
		"Port of gRPC stream sessions",
	)
	cmd.Flags().StringVar(
		&conf.RPC.CertFile,
		"rpc-cert-file",
		"",
		"RPC certification file's path",
	)
	cmd.Flags().StringVar(
		&conf.RPC.KeyFile,
		"rpc-key-file",
		"",
		"RPC key file's path",
	)
	cmd.Flags().StringVar(
		&conf.RPC.AuthSecret,
		"auth-secret",
		"",
		"Secret signing client tokens. Empty lets clients name themselves.",
	)
	cmd.Flags().StringSliceVar(
		&conf.RPC.AllowedOrigins,
		"allowed-origins",
		nil,
		"Origins of accepted websocket handshakes. Empty accepts every origin.",
	)
	cmd.Flags().IntVar(
		&conf.Profiling.Port,
		"profiling-port",
		server.DefaultProfilingPort,
		"Profiling port",
	)
	cmd.Flags().BoolVar(
		&conf.Profiling.EnablePprof,
		"enable-pprof",
		false,
		"Enable runtime profiling data via HTTP server.",
	)
	cmd.Flags().IntVar(
		&conf.Session.QueueSize,
		"session-queue-size",
		conf.Session.QueueSize,
		"Number of outbound frames buffered per session before it is disconnected",
	)
	cmd.Flags().StringVar(
		&conf.Backend.Engine,
		"engine",
		conf.Backend.Engine,
		"Merge engine of documents: rga or automerge",
	)
	cmd.Flags().StringVar(
		&conf.Access.Backend,
		"access-backend",
		conf.Access.Backend,
		"Authorization backend: allow, casbin or webhook",
	)
	cmd.Flags().StringVar(
		&conf.Access.Webhook.URL,
		"access-webhook-url",
		"",
		"URL of the authorization webhook",
	)
	cmd.Flags().StringVar(
		&mongoConnectionURI,
		"mongo-connection-uri",
		"",
		"MongoDB's connection URI",
	)
	cmd.Flags().StringVar(
		&mongoDatabase,
		"mongo-database",
		mongo.DefaultDatabase,
		"Wavelet's database name in MongoDB",
	)
	cmd.Flags().StringVar(
		&postgresURI,
		"postgres-connection-uri",
		"",
		"PostgreSQL's connection URI",
	)
	cmd.Flags().StringVar(
		&badgerPath,
		"badger-path",
		"",
		"Directory of the embedded Badger store",
	)
	cmd.Flags().BoolVar(
		&badgerInMemory,
		"badger-in-memory",
		false,
		"Run the embedded Badger store in memory",
	)
	cmd.Flags().StringVar(
		&redisAddr,
		"redis-addr",
		"",
		"Redis address of the fan-out bus",
	)
	cmd.Flags().StringVar(
		&natsURL,
		"nats-url",
		"",
		"NATS URL of the fan-out bus",
	)

	rootCmd.AddCommand(cmd)
}
