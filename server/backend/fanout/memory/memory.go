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

// Package memory implements an in-process fan-out bus. Several buses connected
// to the same Broker behave like processes sharing one message broker.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/wavelet-team/wavelet/pkg/document/key"
	"github.com/wavelet-team/wavelet/server/backend/fanout"
	"github.com/wavelet-team/wavelet/server/logging"
)

// DefaultBufferSize is the capacity of every subscription buffer. A full
// buffer loses messages like a real broker under pressure.
const DefaultBufferSize = 1024

// ErrClosed is returned when the bus is used after Close.
var ErrClosed = errors.New("bus closed")

// Broker routes messages between the buses connected to it.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

// NewBroker creates a broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

// Connect creates a bus connected to the broker.
func (b *Broker) Connect() *Bus {
	return &Bus{broker: b, subs: make(map[*subscription]struct{})}
}

func (b *Broker) add(docKey string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[docKey]; !ok {
		b.subs[docKey] = make(map[*subscription]struct{})
	}
	b.subs[docKey][sub] = struct{}{}
}

func (b *Broker) remove(docKey string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs[docKey], sub)
	if len(b.subs[docKey]) == 0 {
		delete(b.subs, docKey)
	}
}

func (b *Broker) deliver(docKey string, raw []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[docKey] {
		sub.push(raw)
	}
}

// Bus is one connection to the broker.
type Bus struct {
	broker *Broker

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

// Publish sends the encoded envelope to every subscription of the document.
func (b *Bus) Publish(_ context.Context, env *fanout.Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.broker.deliver(env.Key.CombinedKey(), env.Marshal())
	return nil
}

// Subscribe registers the handler for the document.
func (b *Bus) Subscribe(
	ctx context.Context,
	k key.Key,
	handler fanout.Handler,
) (fanout.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{
		bus:     b,
		docKey:  k.CombinedKey(),
		handler: handler,
		ctx:     logging.With(context.Background(), logging.From(ctx)),
		buffer:  make(chan []byte, DefaultBufferSize),
		done:    make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	b.broker.add(sub.docKey, sub)

	go sub.run()
	return sub, nil
}

// Close closes every subscription of the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	return nil
}

type subscription struct {
	bus     *Bus
	docKey  string
	handler fanout.Handler
	ctx     context.Context

	buffer chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) push(raw []byte) {
	select {
	case <-s.done:
	case s.buffer <- raw:
	default:
		logging.From(s.ctx).Warnf("FAN: buffer of %s is full, message lost", s.docKey)
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case raw := <-s.buffer:
			env, err := fanout.Unmarshal(raw)
			if err != nil {
				logging.From(s.ctx).Warnf("FAN: drop message of %s: %v", s.docKey, err)
				continue
			}
			s.handler(s.ctx, env)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.bus.broker.remove(s.docKey, s)
		close(s.done)
	})
}

// Close stops the delivery to the handler.
func (s *subscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.stop()
	return nil
}
