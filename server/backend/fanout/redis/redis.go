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

// Package redis implements the fan-out bus with redis pub/sub. Every document
// has its own channel.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/logging"
)

// Bus is a fan-out bus backed by redis.
type Bus struct {
	conf   *Config
	client *redis.Client
}

// Dial connects to redis.
func Dial(ctx context.Context, conf *Config) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", conf.Addr, err)
	}

	logging.DefaultLogger().Infof("Redis connected, addr: %s", conf.Addr)
	return &Bus{conf: conf, client: client}, nil
}

func (b *Bus) channel(k key.Key) string {
	prefix := b.conf.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return fanout.Channel(prefix, k, ":")
}

// Publish publishes the envelope on the channel of its document.
func (b *Bus) Publish(ctx context.Context, env *fanout.Envelope) error {
	if err := b.client.Publish(ctx, b.channel(env.Key), env.Marshal()).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Subscribe subscribes to the channel of the document.
func (b *Bus) Subscribe(
	ctx context.Context,
	k key.Key,
	handler fanout.Handler,
) (fanout.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(k))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to redis: %w", err)
	}

	handlerCtx := logging.With(context.Background(), logging.From(ctx))
	go func() {
		for msg := range pubsub.Channel() {
			env, err := fanout.Unmarshal([]byte(msg.Payload))
			if err != nil {
				logging.From(handlerCtx).Warnf("FAN: drop message of %s: %v", msg.Channel, err)
				continue
			}
			handler(handlerCtx, env)
		}
	}()

	return &subscription{pubsub: pubsub}, nil
}

// Close closes the redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}

type subscription struct {
	pubsub *redis.PubSub
}

// Close unsubscribes from the channel.
func (s *subscription) Close() error {
	return s.pubsub.Close()
}
