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

// Package document defines the merge capability the synchronization engine
// relies on. The engine never inspects document content: it only applies
// opaque deltas to a Replica and encodes the Replica into a snapshot.
//
// Implementations must make Apply commutative, associative and idempotent so
// that replicas that applied the same set of deltas in any order encode the
// same content.
package document

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDelta is returned when a delta cannot be decoded.
	ErrInvalidDelta = errors.New("invalid delta")

	// ErrInvalidSnapshot is returned when a snapshot cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrUnknownEngine is returned when no engine is registered for a name.
	ErrUnknownEngine = errors.New("unknown document engine")
)

// Replica is the mutable merged state of one document.
type Replica interface {
	// Apply merges the given delta into the replica.
	Apply(delta []byte) error

	// Encode returns the full state of the replica.
	Encode() ([]byte, error)
}

// Engine creates replicas of one merge algorithm.
type Engine interface {
	// Name returns the name used in configuration.
	Name() string

	// New creates an empty replica.
	New() (Replica, error)

	// Decode creates a replica from a state produced by Replica.Encode. An
	// empty state yields an empty replica.
	Decode(state []byte) (Replica, error)
}

// Replay decodes the snapshot and applies the deltas in order.
func Replay(engine Engine, snapshot []byte, deltas [][]byte) (Replica, error) {
	replica, err := engine.Decode(snapshot)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	for i, delta := range deltas {
		if err := replica.Apply(delta); err != nil {
			return nil, fmt.Errorf("replay delta %d: %w", i, err)
		}
	}

	return replica, nil
}

// Engines is a set of engines addressable by name.
type Engines map[string]Engine

// NewEngines creates a set of the given engines.
func NewEngines(engines ...Engine) Engines {
	set := make(Engines, len(engines))
	for _, e := range engines {
		set[e.Name()] = e
	}
	return set
}

// Get returns the engine registered for name.
func (e Engines) Get(name string) (Engine, error) {
	engine, ok := e[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownEngine)
	}
	return engine, nil
}
