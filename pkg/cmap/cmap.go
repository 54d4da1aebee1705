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

// Package cmap provides a sharded concurrent map. The registry keeps its live
// groups in it so that lookups for different documents never contend on one
// lock.
package cmap

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// numShards is the number of shards.
const numShards = 32

type shard[K comparable, V any] struct {
	sync.RWMutex
	items map[K]V
}

// Map is a concurrent map that is safe for multiple goroutines.
type Map[K comparable, V any] struct {
	shards [numShards]*shard[K, V]
}

// New creates a new Map.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) shardOf(key K) *shard[K, V] {
	hash := fnv.New32a()
	switch k := any(key).(type) {
	case string:
		_, _ = hash.Write([]byte(k))
	case fmt.Stringer:
		_, _ = hash.Write([]byte(k.String()))
	default:
		_, _ = hash.Write([]byte(fmt.Sprintf("%v", key)))
	}
	return m.shards[hash.Sum32()%numShards]
}

// Set sets a key-value pair.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardOf(key)
	s.Lock()
	defer s.Unlock()

	s.items[key] = value
}

// Get retrieves a value from the map.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardOf(key)
	s.RLock()
	defer s.RUnlock()

	value, ok := s.items[key]
	return value, ok
}

// Has reports whether the key exists in the map.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// GetOrInsert returns the value stored for the key. If there is none, create is
// called under the shard lock and its result is stored. The second result
// reports whether the value was created by this call.
func (m *Map[K, V]) GetOrInsert(key K, create func() V) (V, bool) {
	s := m.shardOf(key)
	s.Lock()
	defer s.Unlock()

	if value, ok := s.items[key]; ok {
		return value, false
	}

	value := create()
	s.items[key] = value
	return value, true
}

// Delete removes the value of the key if cond returns true for it. It returns
// whether the value was removed.
func (m *Map[K, V]) Delete(key K, cond func(value V) bool) bool {
	s := m.shardOf(key)
	s.Lock()
	defer s.Unlock()

	value, ok := s.items[key]
	if !ok {
		return false
	}
	if cond != nil && !cond(value) {
		return false
	}

	delete(s.items, key)
	return true
}

// Len returns the number of items in the map.
func (m *Map[K, V]) Len() int {
	count := 0
	for _, s := range m.shards {
		s.RLock()
		count += len(s.items)
		s.RUnlock()
	}
	return count
}

// Values returns a point-in-time copy of all values in the map.
func (m *Map[K, V]) Values() []V {
	var values []V
	for _, s := range m.shards {
		s.RLock()
		for _, v := range s.items {
			values = append(values, v)
		}
		s.RUnlock()
	}
	return values
}

// Keys returns a point-in-time copy of all keys in the map.
func (m *Map[K, V]) Keys() []K {
	var keys []K
	for _, s := range m.shards {
		s.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.RUnlock()
	}
	return keys
}
