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

// Package automerge adapts automerge documents to the document.Engine
// interface. Deltas are incremental saves produced by automerge clients and
// snapshots are full saves.
package automerge

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/wavelet-team/wavelet/pkg/document"
)

// EngineName is the configuration name of this engine.
const EngineName = "automerge"

// Replica wraps an automerge document.
type Replica struct {
	doc *automerge.Doc
}

// Apply loads the changes contained in the delta. Changes that the document
// already has are ignored by automerge.
func (r *Replica) Apply(delta []byte) error {
	if len(delta) == 0 {
		return fmt.Errorf("empty delta: %w", document.ErrInvalidDelta)
	}
	if err := r.doc.LoadIncremental(delta); err != nil {
		return fmt.Errorf("load incremental: %v: %w", err, document.ErrInvalidDelta)
	}
	return nil
}

// Encode returns the full save of the document.
func (r *Replica) Encode() ([]byte, error) {
	return r.doc.Save(), nil
}

// Heads returns the hashes of the latest changes of the document.
func (r *Replica) Heads() []automerge.ChangeHash {
	return r.doc.Heads()
}

// Engine creates automerge replicas.
type Engine struct{}

// Name returns the configuration name of the engine.
func (Engine) Name() string {
	return EngineName
}

// New creates an empty replica.
func (Engine) New() (document.Replica, error) {
	return &Replica{doc: automerge.New()}, nil
}

// Decode loads a replica from a full save.
func (e Engine) Decode(state []byte) (document.Replica, error) {
	if len(state) == 0 {
		return e.New()
	}

	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("load: %v: %w", err, document.ErrInvalidSnapshot)
	}
	return &Replica{doc: doc}, nil
}
