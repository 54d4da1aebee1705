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

// Package nats implements the fan-out bus with core NATS subjects.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/logging"
)

// Bus is a fan-out bus backed by NATS.
type Bus struct {
	conf *Config
	conn *nats.Conn
}

// Dial connects to the NATS server.
func Dial(conf *Config) (*Bus, error) {
	conn, err := nats.Connect(
		conf.URL,
		nats.Name("wavelet"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.DefaultLogger().Warnf("FAN: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.DefaultLogger().Infof("FAN: nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", conf.URL, err)
	}

	logging.DefaultLogger().Infof("NATS connected, url: %s", conf.URL)
	return &Bus{conf: conf, conn: conn}, nil
}

func (b *Bus) subject(k key.Key) string {
	prefix := b.conf.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fanout.Channel(prefix, k, ".")
}

// Publish publishes the envelope on the subject of its document.
func (b *Bus) Publish(_ context.Context, env *fanout.Envelope) error {
	if err := b.conn.Publish(b.subject(env.Key), env.Marshal()); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Subscribe subscribes to the subject of the document. NATS delivers the
// messages of one subscription sequentially.
func (b *Bus) Subscribe(
	ctx context.Context,
	k key.Key,
	handler fanout.Handler,
) (fanout.Subscription, error) {
	handlerCtx := logging.With(context.Background(), logging.From(ctx))
	sub, err := b.conn.Subscribe(b.subject(k), func(msg *nats.Msg) {
		env, err := fanout.Unmarshal(msg.Data)
		if err != nil {
			logging.From(handlerCtx).Warnf("FAN: drop message of %s: %v", msg.Subject, err)
			return
		}
		handler(handlerCtx, env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to nats: %w", err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush nats subscription: %w", err)
	}

	return &subscription{sub: sub}, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

type subscription struct {
	sub *nats.Subscription
}

// Close unsubscribes from the subject.
func (s *subscription) Close() error {
	return s.sub.Unsubscribe()
}
