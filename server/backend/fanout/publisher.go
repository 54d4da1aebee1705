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

package fanout

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// DefaultQueueSize is the default capacity of each publisher shard.
const DefaultQueueSize = 4096

// shardCount is the number of queues envelopes are spread over by document.
const shardCount = 16

const publishTimeout = 5 * time.Second

// Publisher moves publishing off the hot path of groups. Envelopes are
// spread over shards by document and every shard is sent by its own
// goroutine, which keeps the publish order of every document while a slow
// publish only holds up the documents of its shard.
type Publisher struct {
	bus     Bus
	shards  []chan *Envelope
	metrics *prometheus.Metrics
}

// NewPublisher creates a publisher whose shards hold up to size envelopes
// each.
func NewPublisher(bus Bus, size int, metrics *prometheus.Metrics) *Publisher {
	if size <= 0 {
		size = DefaultQueueSize
	}

	shards := make([]chan *Envelope, shardCount)
	for i := range shards {
		shards[i] = make(chan *Envelope, size)
	}
	return &Publisher{
		bus:     bus,
		shards:  shards,
		metrics: metrics,
	}
}

func (p *Publisher) shardOf(env *Envelope) chan *Envelope {
	h := fnv.New32a()
	_, _ = h.Write([]byte(env.Key.CombinedKey()))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// Enqueue queues the envelope without blocking. It returns false and drops
// the envelope when the shard of the document is full; receivers detect the
// missing sequence.
func (p *Publisher) Enqueue(env *Envelope) bool {
	select {
	case p.shardOf(env) <- env:
		return true
	default:
		p.metrics.AddFanoutDropped()
		return false
	}
}

// Run publishes queued envelopes until ctx is done, then publishes what is
// left in the shards. It returns when every shard is drained.
func (p *Publisher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, shard := range p.shards {
		wg.Add(1)
		go func(shard chan *Envelope) {
			defer wg.Done()
			p.run(ctx, shard)
		}(shard)
	}
	wg.Wait()
}

func (p *Publisher) run(ctx context.Context, shard chan *Envelope) {
	for {
		select {
		case env := <-shard:
			p.publish(ctx, env)
		case <-ctx.Done():
			p.drain(shard)
			return
		}
	}
}

func (p *Publisher) drain(shard chan *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for {
		select {
		case env := <-shard:
			p.publish(ctx, env)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env *Envelope) {
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.bus.Publish(publishCtx, env); err != nil {
		logging.From(ctx).Warnf("FAN: publish %s seq %d: %v", env.Key, env.Seq, err)
		p.metrics.AddFanoutDropped()
		return
	}
	p.metrics.AddFanoutPublished()
}
