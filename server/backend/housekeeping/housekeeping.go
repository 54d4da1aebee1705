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

package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wavelet-team/wavelet/server/logging"
)

// ErrAlreadyStarted is returned when registering a task after Start.
var ErrAlreadyStarted = errors.New("housekeeping already started")

// TaskFunc runs one round of a task and returns the number of handled items.
type TaskFunc func(ctx context.Context) (int, error)

type task struct {
	name     string
	interval time.Duration
	run      TaskFunc
}

// Housekeeping is the housekeeping service. It periodically runs the
// registered tasks, each on its own goroutine.
type Housekeeping struct {
	mu      sync.Mutex
	tasks   []task
	started bool

	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// New creates a new housekeeping instance.
func New() *Housekeeping {
	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Housekeeping{
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
}

// RegisterTask registers a task that runs every interval once started.
func (h *Housekeeping) RegisterTask(name string, interval time.Duration, run TaskFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("register %s: %w", name, ErrAlreadyStarted)
	}
	if interval <= 0 {
		return fmt.Errorf("register %s: non-positive interval %s", name, interval)
	}

	h.tasks = append(h.tasks, task{name: name, interval: interval, run: run})
	return nil
}

// Start starts the housekeeping service.
func (h *Housekeeping) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}
	h.started = true

	for _, t := range h.tasks {
		h.wg.Add(1)
		go h.loop(t)
	}
	return nil
}

// Stop stops the housekeeping service and waits for running tasks.
func (h *Housekeeping) Stop() error {
	h.cancelFunc()
	h.wg.Wait()

	return nil
}

// loop is the housekeeping loop of one task.
func (h *Housekeeping) loop(t task) {
	defer h.wg.Done()
	ctx := logging.With(h.ctx, logging.New("HSKP").With("task", t.name))

	for {
		select {
		case <-time.After(t.interval):
		case <-h.ctx.Done():
			return
		}

		start := time.Now()
		handled, err := t.run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.From(ctx).Errorf("HSKP: %s: %v", t.name, err)
		}
		if handled > 0 {
			logging.From(ctx).Infof("HSKP: %s handled %d, %s", t.name, handled, time.Since(start))
		}
	}
}
