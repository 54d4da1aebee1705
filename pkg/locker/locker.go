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

/*
Package locker provides named locks so that work on one name is serialized
without holding a global lock over every name. The registry uses it to make
sure that exactly one group is created per document identity.

A lock with a given name is created on first use and dropped on Unlock when
nobody else holds or waits for it.
*/
package locker

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSuchLock is returned when unlocking a name that is not locked.
var ErrNoSuchLock = errors.New("no such lock")

// Locker provides a locking mechanism based on the passed in reference name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// entry is a single named lock. sem has a capacity of one; holding the token
// means holding the lock.
type entry struct {
	sem  chan struct{}
	refs int
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// ref returns the entry of the name and counts the caller as a user of it.
func (l *Locker) ref(name string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[name]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	return e
}

// unref drops the caller's reference and removes the entry when unused.
func (l *Locker) unref(name string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
}

// Lock locks the name, waiting as long as necessary.
func (l *Locker) Lock(name string) {
	_ = l.LockContext(context.Background(), name)
}

// LockContext locks the name or returns the context error if ctx is done
// first.
func (l *Locker) LockContext(ctx context.Context, name string) error {
	e := l.ref(name)

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(name, e)
		return ctx.Err()
	}
}

// TryLock locks the name only if it is free.
func (l *Locker) TryLock(name string) bool {
	e := l.ref(name)

	select {
	case e.sem <- struct{}{}:
		return true
	default:
		l.unref(name, e)
		return false
	}
}

// Unlock unlocks the name.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	e, ok := l.locks[name]
	l.mu.Unlock()
	if !ok {
		return ErrNoSuchLock
	}

	select {
	case <-e.sem:
	default:
		return ErrNoSuchLock
	}

	l.unref(name, e)
	return nil
}

// size returns the number of live entries. It is used by tests.
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
