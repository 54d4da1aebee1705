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

// Package background tracks the goroutines the backend spawns so that
// shutdown can wait for every one of them.
package background

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/wavelet-team/wavelet/server/logging"
	"github.com/wavelet-team/wavelet/server/profiling/prometheus"
)

// ErrClosed is returned when a routine cannot start because the background
// was closed.
var ErrClosed = errors.New("background closed")

type routineID int32

func (c *routineID) next() string {
	next := atomic.AddInt32((*int32)(c), 1)
	return "b" + strconv.Itoa(int(next))
}

// Background manages background routines of the backend.
type Background struct {
	// ctx is cancelled when the background is closing.
	ctx    context.Context
	cancel context.CancelFunc

	// wgMu blocks concurrent WaitGroup mutation while closing.
	wgMu    sync.RWMutex
	wg      sync.WaitGroup
	closing bool

	routineID routineID
	metrics   *prometheus.Metrics
}

// New creates a new background service.
func New(metrics *prometheus.Metrics) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
	}
}

// AttachGoroutine runs f in a goroutine tracked by the background. The
// context passed to f carries a routine logger and is cancelled on Close. It
// returns false if the background is already closing.
func (b *Background) AttachGoroutine(
	f func(ctx context.Context),
	taskType string,
) bool {
	b.wgMu.RLock()
	defer b.wgMu.RUnlock()
	if b.closing {
		logging.DefaultLogger().Warnf("background has closed; skipping %s", taskType)
		return false
	}

	b.wg.Add(1)
	routineLogger := logging.New(b.routineID.next())
	if b.metrics != nil {
		b.metrics.AddBackgroundGoroutines(taskType)
	}
	go func() {
		defer func() {
			if b.metrics != nil {
				b.metrics.RemoveBackgroundGoroutines(taskType)
			}
			b.wg.Done()
		}()
		f(logging.With(b.ctx, routineLogger))
	}()
	return true
}

// Close cancels the context of attached goroutines and waits for them to
// exit.
func (b *Background) Close() {
	b.wgMu.Lock()
	b.closing = true
	b.wgMu.Unlock()

	b.cancel()
	b.wg.Wait()
}
