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

// Package session adapts one client connection to the group it subscribes
// to. Inbound frames become group operations; messages of the group are
// queued on a bounded outbound queue drained by a writer goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/wavelet-team/wavelet/api/types"
	"github.com/wavelet-team/wavelet/internal/metaerrors"
	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/access"
	"github.com/wavelet-team/wavelet/server/backend/group"
	"github.com/wavelet-team/wavelet/server/backend/registry"
	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// finalWriteTimeout bounds writing the error frame that explains a close.
const finalWriteTimeout = time.Second

// queueWarnRatio is the fill ratio of the outbound queue above which the
// session warns once that its client falls behind.
const queueWarnRatio = 0.75

// Transport delivers frames between a client and its session.
type Transport interface {
	// Name is the name of the transport in metrics.
	Name() string

	// Read blocks until the next frame of the client arrives.
	Read(ctx context.Context) (*types.Frame, error)

	// Write sends a frame to the client. It is only called from the writer
	// goroutine of the session.
	Write(ctx context.Context, frame *types.Frame) error

	// Close closes the connection. reason is nil for a regular close.
	Close(reason error) error
}

// Options are the collaborators of a session.
type Options struct {
	Registry   *registry.Registry
	Authorizer access.Authorizer
	Metrics    *prometheus.Metrics
}

type sessionID int64

func (c *sessionID) next() string {
	next := atomic.AddInt64((*int64)(c), 1)
	return "s" + strconv.FormatInt(next, 10)
}

var loggerID sessionID

// Session is one live client connection.
type Session struct {
	id        string
	user      string
	conf      *Config
	opts      Options
	transport Transport
	logger    logging.Logger

	queue chan *types.Frame

	// sendKey is the document of outbound group messages. It changes only
	// while the session is not a member of any group.
	sendKey atomic.Pointer[key.Key]

	// group is owned by the reader goroutine.
	group *group.Group

	// watermark is the highest depth the outbound queue reached.
	watermark  atomic.Int64
	warnedFull atomic.Bool

	sentVersion atomic.Int64

	closeOnce sync.Once
	closing   chan struct{}
	reason    error
}

// New creates a session of the authenticated user over the transport.
func New(conf *Config, transport Transport, user string, opts Options) *Session {
	id := xid.New().String()
	return &Session{
		id:        id,
		user:      user,
		conf:      conf,
		opts:      opts,
		transport: transport,
		logger:    logging.New(loggerID.next(), logging.NewField("sid", id)),
		queue:     make(chan *types.Frame, conf.QueueSize),
		closing:   make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// User returns the authenticated user.
func (s *Session) User() string {
	return s.user
}

// Watermark returns the highest depth the outbound queue reached.
func (s *Session) Watermark() int64 {
	return s.watermark.Load()
}

// SentVersion returns the version of the latest snapshot, delta or ack
// written to the transport.
func (s *Session) SentVersion() int64 {
	return s.sentVersion.Load()
}

// Send enqueues a message of the group without blocking. It returns false
// when the outbound queue is full.
func (s *Session) Send(msg group.Message) bool {
	frame := &types.Frame{
		Version:     msg.Version,
		Payload:     msg.Payload,
		ClientClock: msg.ClientClock,
	}
	switch msg.Type {
	case group.TypeSnapshot:
		frame.Type = types.FrameSnapshot
	case group.TypeDelta:
		frame.Type = types.FrameDelta
	case group.TypeAck:
		frame.Type = types.FrameAck
	}
	if k := s.sendKey.Load(); k != nil {
		frame.Workspace, frame.Object = k.Workspace, k.Object
	}

	select {
	case <-s.closing:
		return true
	default:
	}

	select {
	case s.queue <- frame:
		s.observeDepth()
		return true
	default:
		return false
	}
}

// observeDepth raises the watermark to the current depth of the outbound
// queue.
func (s *Session) observeDepth() {
	depth := int64(len(s.queue))
	for {
		current := s.watermark.Load()
		if depth <= current {
			return
		}
		if !s.watermark.CompareAndSwap(current, depth) {
			continue
		}
		if float64(depth) >= queueWarnRatio*float64(cap(s.queue)) && s.warnedFull.CompareAndSwap(false, true) {
			s.logger.Warnf("SESS: %s outbound queue at %d of %d", s.user, depth, cap(s.queue))
		}
		return
	}
}

// Disconnect closes the session with the reason without blocking.
func (s *Session) Disconnect(reason error) {
	s.close(reason)
}

func (s *Session) close(reason error) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closing)
	})
}

// Run serves the session until the client leaves, the transport fails or
// the session is disconnected. It returns the reason of the close, nil for
// a regular close by the client.
func (s *Session) Run(ctx context.Context) error {
	ctx = logging.With(ctx, s.logger)
	name := s.transport.Name()
	s.opts.Metrics.AddSession(name)
	logging.From(ctx).Debugf("SESS: %s connected over %s", s.user, name)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.write(ctx)
	}()

	err := s.read(ctx)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.close(err)
	<-writerDone
	s.leave()

	s.opts.Metrics.RemoveSession(name, reasonLabel(s.reason))
	s.opts.Metrics.ObserveSessionQueueWatermark(name, s.Watermark())
	if s.reason != nil {
		logging.From(ctx).Debugf("SESS: %s disconnected, queue watermark %d: %v", s.user, s.Watermark(), s.reason)
	}
	return s.reason
}

func (s *Session) read(ctx context.Context) error {
	for {
		frame, err := s.transport.Read(ctx)
		if errors.Is(err, types.ErrInvalidFrame) {
			return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		if err != nil {
			return err
		}

		select {
		case <-s.closing:
			return nil
		default:
		}

		if err := s.handle(ctx, frame); err != nil {
			return err
		}
	}
}

// handle applies one inbound frame. It returns an error only when the
// session has to be closed. A frame that fails validation closes it.
func (s *Session) handle(ctx context.Context, frame *types.Frame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}

	switch frame.Type {
	case types.FramePing:
		return s.reply(&types.Frame{Type: types.FramePong})
	case types.FrameSubscribe:
		return s.subscribe(ctx, frame.Key())
	case types.FrameUnsubscribe:
		s.leave()
		return nil
	case types.FrameUpdate:
		return s.update(ctx, frame)
	}
	return nil
}

func (s *Session) subscribe(ctx context.Context, k key.Key) error {
	s.leave()
	metadata := map[string]string{"workspace": k.Workspace, "object": k.Object}

	decision, err := s.opts.Authorizer.Check(ctx, s.user, k, access.ModeWrite)
	if err != nil {
		logging.From(ctx).Warnf("SESS: check %s on %s: %v", s.user, k, err)
		decision = access.Deny
	}
	if !decision.Allowed() {
		err := fmt.Errorf("%s on %s: %w", s.user, k, group.ErrAccessDenied)
		return s.reply(ErrorFrame(metaerrors.New(err, metadata)))
	}

	s.sendKey.Store(&k)
	g, err := s.opts.Registry.AcquireAndAdmit(ctx, k, s, decision)
	if err != nil {
		logging.From(ctx).Warnf("SESS: subscribe %s: %v", k, err)
		return s.reply(ErrorFrame(metaerrors.New(err, metadata)))
	}

	s.group = g
	logging.From(ctx).Debugf("SESS: %s subscribed to %s as %s", s.user, k, decision)
	return nil
}

func (s *Session) update(ctx context.Context, frame *types.Frame) error {
	if s.group == nil {
		return s.reply(ErrorFrame(ErrNotSubscribed))
	}

	// An update names no document or the one of the subscription.
	k := s.group.Key()
	if (frame.Workspace != "" || frame.Object != "") && frame.Key().CombinedKey() != k.CombinedKey() {
		return fmt.Errorf(
			"update of %s in subscription of %s: %w: %w",
			frame.Key(), k, ErrProtocolViolation, types.ErrInvalidFrame,
		)
	}

	_, err := s.group.Apply(ctx, group.Update{
		GroupVersionSeen: frame.Version,
		Payload:          frame.Payload,
		Origin:           s.id,
		ClientClock:      frame.ClientClock,
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, group.ErrNotMember) || errors.Is(err, group.ErrGroupClosed) {
		s.group = nil
	}
	metadata := map[string]string{"workspace": k.Workspace, "object": k.Object}
	return s.reply(ErrorFrame(metaerrors.New(err, metadata)))
}

// leave removes the session from its group. Nothing else of the group is
// affected.
func (s *Session) leave() {
	if s.group == nil {
		return
	}
	s.group.Remove(s.id)
	s.group = nil
}

// reply enqueues a frame of the session itself.
func (s *Session) reply(frame *types.Frame) error {
	select {
	case s.queue <- frame:
		s.observeDepth()
		return nil
	default:
		return group.ErrBackpressureDisconnect
	}
}

func (s *Session) write(ctx context.Context) {
	timeout := s.conf.ParseWriteTimeout()

	// A pending write is aborted once the session is closing.
	liveCtx, cancelLive := context.WithCancel(ctx)
	defer cancelLive()
	go func() {
		select {
		case <-s.closing:
			cancelLive()
		case <-liveCtx.Done():
		}
	}()

	for {
		select {
		case frame := <-s.queue:
			writeCtx, cancel := context.WithTimeout(liveCtx, timeout)
			err := s.transport.Write(writeCtx, frame)
			cancel()
			if err != nil {
				s.close(err)
				continue
			}
			switch frame.Type {
			case types.FrameSnapshot, types.FrameDelta, types.FrameAck:
				s.sentVersion.Store(frame.Version)
			}
		case <-ctx.Done():
			s.close(ErrSessionClosed)
			s.finish(ctx)
			return
		case <-s.closing:
			s.finish(ctx)
			return
		}
	}
}

// finish tells the client why the server closes the session and closes the
// transport.
func (s *Session) finish(ctx context.Context) {
	reason := s.reason
	if reason != nil && ErrorCode(reason) != types.CodeInternal {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
		if err := s.transport.Write(writeCtx, ErrorFrame(reason)); err != nil {
			logging.From(ctx).Debugf("SESS: write close reason: %v", err)
		}
		cancel()
	}

	if err := s.transport.Close(reason); err != nil {
		logging.From(ctx).Debugf("SESS: close transport: %v", err)
	}
}

func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, group.ErrBackpressureDisconnect):
		return "backpressure"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrSessionClosed), errors.Is(err, registry.ErrRegistryClosed),
		errors.Is(err, context.Canceled):
		return "shutdown"
	default:
		return "error"
	}
}
