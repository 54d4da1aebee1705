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

// Package rpc serves sessions over websocket and gRPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/wavelet-team/wavelet/server/backend"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/rpc/auth"
	"github.com/wavelet-team/wavelet/server/rpc/httphealth"
	"github.com/wavelet-team/wavelet/server/rpc/interceptors"
	"github.com/wavelet-team/wavelet/server/session"
)

const (
	// WebsocketPath is the path of websocket sessions.
	WebsocketPath = "/ws"

	shutdownTimeout = 10 * time.Second
)

var errTransportClosed = errors.New("transport closed")

// Server serves the sessions of clients over websocket and gRPC.
type Server struct {
	conf          *Config
	sessionConf   *session.Config
	backend       *backend.Backend
	authenticator *auth.Authenticator
	tokens        *auth.TokenManager

	upgrader   *websocket.Upgrader
	health     *health.Server
	httpServer *http.Server
	grpcServer *grpc.Server

	serviceCtx    context.Context
	serviceCancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
}

// NewServer creates a new instance of Server.
func NewServer(conf *Config, sessionConf *session.Config, be *backend.Backend) (*Server, error) {
	var tokens *auth.TokenManager
	if conf.AuthSecret != "" {
		tokens = auth.NewTokenManager(conf.AuthSecret, conf.ParseTokenDuration())
	}
	authenticator := auth.NewAuthenticator(tokens)

	loggingInterceptor := interceptors.NewLoggingInterceptor()
	defaultInterceptor := interceptors.NewDefaultInterceptor()
	authInterceptor := interceptors.NewAuthInterceptor(authenticator, ConnectMethod)

	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpcmiddleware.ChainUnaryServer(
			loggingInterceptor.Unary(),
			be.Metrics.ServerMetrics().UnaryServerInterceptor(),
			defaultInterceptor.Unary(),
		)),
		grpc.StreamInterceptor(grpcmiddleware.ChainStreamServer(
			loggingInterceptor.Stream(),
			be.Metrics.ServerMetrics().StreamServerInterceptor(),
			defaultInterceptor.Stream(),
			authInterceptor.Stream(),
		)),
	}

	if conf.CertFile != "" && conf.KeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(conf.CertFile, conf.KeyFile)
		if err != nil {
			logging.DefaultLogger().Error(err)
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts, grpc.MaxRecvMsgSize(int(conf.MaxRequestBytes)))
	opts = append(opts, grpc.MaxSendMsgSize(math.MaxInt32))
	opts = append(opts, grpc.MaxConcurrentStreams(math.MaxUint32))
	if age, grace := conf.parseConnectionAge(); age > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionAge:      age,
			MaxConnectionAgeGrace: grace,
		}))
	}

	serviceCtx, serviceCancel := context.WithCancel(context.Background())
	s := &Server{
		conf:          conf,
		sessionConf:   sessionConf,
		backend:       be,
		authenticator: authenticator,
		tokens:        tokens,
		upgrader:      newUpgrader(conf),
		health:        health.NewServer(),
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}

	s.grpcServer = grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.grpcServer.RegisterService(&syncServiceDesc, s)
	be.Metrics.ServerMetrics().InitializeMetrics(s.grpcServer)
	s.health.SetServingStatus(SyncServiceName, healthpb.HealthCheckResponse_SERVING)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", conf.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: handshakeTimeout,
	}

	return s, nil
}

// Handler returns the HTTP handler of websocket sessions, the admin
// endpoints and the health check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, httphealth.Path, httphealth.NewHandler(s.health))
	r.Method(http.MethodHead, httphealth.Path, httphealth.NewHandler(s.health))

	r.Group(func(r chi.Router) {
		if s.conf.HandshakeRate > 0 {
			r.Use(httprate.LimitByIP(s.conf.HandshakeRate, time.Minute))
		}
		r.Get(WebsocketPath, s.serveWebsocket)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get(GroupsPath, s.listGroups)
	})

	return r
}

// TokenManager returns the manager of tokens, nil while tokens are
// disabled.
func (s *Server) TokenManager() *auth.TokenManager {
	return s.tokens
}

// Start starts this server by opening the HTTP and the gRPC ports.
func (s *Server) Start() error {
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.conf.GRPCPort))
	if err != nil {
		logging.DefaultLogger().Error(err)
		return err
	}
	httpListener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = grpcListener.Close()
		logging.DefaultLogger().Error(err)
		return err
	}

	s.ServeGRPC(grpcListener)

	go func() {
		logging.DefaultLogger().Infof("serving websocket on %d", s.conf.Port)

		var err error
		if s.conf.CertFile != "" && s.conf.KeyFile != "" {
			err = s.httpServer.ServeTLS(httpListener, s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = s.httpServer.Serve(httpListener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.DefaultLogger().Error(err)
		}
	}()

	return nil
}

// ServeGRPC serves gRPC sessions on the listener in the background.
func (s *Server) ServeGRPC(lis net.Listener) {
	go func() {
		logging.DefaultLogger().Infof("serving RPC on %s", lis.Addr())

		if err := s.grpcServer.Serve(lis); err != nil {
			if err != grpc.ErrServerStopped {
				logging.DefaultLogger().Error(err)
			}
		}
	}()
}

// Shutdown ends every session and shuts down this server.
func (s *Server) Shutdown(graceful bool) {
	s.health.Shutdown()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.serviceCancel()
	s.sessions.Wait()

	if graceful {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logging.DefaultLogger().Warnf("shutdown http server: %v", err)
		}
		s.grpcServer.GracefulStop()
	} else {
		_ = s.httpServer.Close()
		s.grpcServer.Stop()
	}
}

// Connect serves the session of a gRPC stream.
func (s *Server) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	user, ok := auth.UserFrom(ctx)
	if !ok {
		return grpcstatus.Error(codes.Unauthenticated, "authorization is not provided")
	}

	t := newStreamTransport(stream)
	return toStatusError(s.runSession(ctx, t, user))
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	authorization := r.Header.Get("Authorization")
	if token := r.URL.Query().Get("token"); token != "" {
		authorization = token
	}
	user, err := s.authenticator.Authenticate(authorization, r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.From(r.Context()).Debugf("RPC: upgrade: %v", err)
		return
	}

	t, err := newWebsocketTransport(conn, int64(s.conf.MaxRequestBytes))
	if err != nil {
		_ = conn.Close()
		return
	}
	go t.keepAlive(s.serviceCtx)

	if err := s.runSession(context.Background(), t, user); err != nil {
		logging.DefaultLogger().Debugf("RPC: websocket session of %s: %v", user, err)
	}
}

// runSession runs a session until it ends or the server shuts down.
func (s *Server) runSession(ctx context.Context, t session.Transport, user string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close(session.ErrSessionClosed)
		return session.ErrSessionClosed
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.serviceCtx, cancel)
	defer stop()

	sess := session.New(s.sessionConf, t, user, session.Options{
		Registry:   s.backend.Registry,
		Authorizer: s.backend.Authorizer,
		Metrics:    s.backend.Metrics,
	})
	return sess.Run(ctx)
}
