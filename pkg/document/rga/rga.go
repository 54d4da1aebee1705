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

// Package rga implements a replicated growable array: a sequence CRDT for
// plain text. It is the default merge engine of Wavelet and the one clients
// written in Go use to produce deltas.
//
// Every element is identified by a Lamport clock and the site that created it.
// Concurrent insertions after the same element are ordered by descending ID,
// which makes the final sequence independent of the order in which replicas
// receive the operations. Deletions leave tombstones so that later operations
// can still refer to deleted elements.
package rga

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wavelet-team/wavelet/pkg/document"
)

// EngineName is the configuration name of this engine.
const EngineName = "rga"

// ErrOutOfRange is returned when a local edit refers to a position outside of
// the visible text.
var ErrOutOfRange = errors.New("position out of range")

const (
	kindInsert = "ins"
	kindDelete = "del"
)

// ID identifies an element of the sequence.
type ID struct {
	Clock uint64 `json:"c"`
	Site  string `json:"s,omitempty"`
}

// IsZero reports whether the ID is the ID of the head sentinel.
func (id ID) IsZero() bool {
	return id.Clock == 0 && id.Site == ""
}

// After reports whether id has priority over other: a larger clock wins and
// sites break ties.
func (id ID) After(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock > other.Clock
	}
	return id.Site > other.Site
}

// String returns the string form of the ID.
func (id ID) String() string {
	return fmt.Sprintf("%d@%s", id.Clock, id.Site)
}

// Op is a single insertion or deletion.
type Op struct {
	Kind  string `json:"k"`
	ID    ID     `json:"id"`
	After ID     `json:"af"`
	Value string `json:"v,omitempty"`
}

func (op Op) validate() error {
	switch op.Kind {
	case kindInsert:
		if op.ID.Clock == 0 || op.Value == "" {
			return fmt.Errorf("insert %s: %w", op.ID, document.ErrInvalidDelta)
		}
	case kindDelete:
		if op.ID.Clock == 0 {
			return fmt.Errorf("delete %s: %w", op.ID, document.ErrInvalidDelta)
		}
	default:
		return fmt.Errorf("kind %q: %w", op.Kind, document.ErrInvalidDelta)
	}
	return nil
}

type delta struct {
	Ops []Op `json:"ops"`
}

type element struct {
	id      ID
	value   string
	deleted bool
	next    *element
}

// Replica is a replica of a text document.
type Replica struct {
	site  string
	clock uint64
	head  *element
	index map[ID]*element

	// pending holds operations whose target element is not known yet. They are
	// retried whenever another operation is integrated.
	pending []Op
}

// NewReplica creates an empty replica for the given site. Sites must be unique
// among replicas that edit the same document; a replica that only merges
// remote deltas may use an empty site.
func NewReplica(site string) *Replica {
	head := &element{}
	return &Replica{
		site:  site,
		head:  head,
		index: map[ID]*element{{}: head},
	}
}

// Apply merges the given delta. Operations that were already applied are
// ignored.
func (r *Replica) Apply(raw []byte) error {
	var d delta
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode delta: %v: %w", err, document.ErrInvalidDelta)
	}
	if len(d.Ops) == 0 {
		return fmt.Errorf("empty delta: %w", document.ErrInvalidDelta)
	}
	for _, op := range d.Ops {
		if err := op.validate(); err != nil {
			return err
		}
	}

	for _, op := range d.Ops {
		if !r.integrate(op) {
			r.park(op)
		}
	}
	r.drainPending()

	return nil
}

// Insert inserts text at the given visible position and returns the delta
// describing the edit.
func (r *Replica) Insert(pos int, text string) ([]byte, error) {
	if pos < 0 || pos > r.Len() {
		return nil, fmt.Errorf("insert at %d: %w", pos, ErrOutOfRange)
	}

	prev := r.visibleAt(pos - 1)
	var ops []Op
	for _, ch := range text {
		r.clock++
		op := Op{
			Kind:  kindInsert,
			ID:    ID{Clock: r.clock, Site: r.site},
			After: prev.id,
			Value: string(ch),
		}
		r.integrate(op)
		prev = r.index[op.ID]
		ops = append(ops, op)
	}

	return json.Marshal(delta{Ops: ops})
}

// Delete deletes length visible characters starting at pos and returns the
// delta describing the edit.
func (r *Replica) Delete(pos, length int) ([]byte, error) {
	if pos < 0 || length <= 0 || pos+length > r.Len() {
		return nil, fmt.Errorf("delete %d..%d: %w", pos, pos+length, ErrOutOfRange)
	}

	var ops []Op
	for i := 0; i < length; i++ {
		target := r.visibleAt(pos)
		op := Op{Kind: kindDelete, ID: target.id}
		r.integrate(op)
		ops = append(ops, op)
	}

	return json.Marshal(delta{Ops: ops})
}

// String returns the visible text.
func (r *Replica) String() string {
	sb := strings.Builder{}
	for e := r.head.next; e != nil; e = e.next {
		if !e.deleted {
			sb.WriteString(e.value)
		}
	}
	return sb.String()
}

// Len returns the number of visible characters.
func (r *Replica) Len() int {
	n := 0
	for e := r.head.next; e != nil; e = e.next {
		if !e.deleted {
			n++
		}
	}
	return n
}

// PendingLen returns the number of operations waiting for their target.
func (r *Replica) PendingLen() int {
	return len(r.pending)
}

// visibleAt returns the visible element at the given position, or the head
// for -1.
func (r *Replica) visibleAt(pos int) *element {
	if pos < 0 {
		return r.head
	}

	i := 0
	for e := r.head.next; e != nil; e = e.next {
		if e.deleted {
			continue
		}
		if i == pos {
			return e
		}
		i++
	}
	return nil
}

// integrate applies the operation if its target is known. It returns false
// when the operation has to wait.
func (r *Replica) integrate(op Op) bool {
	switch op.Kind {
	case kindInsert:
		if _, ok := r.index[op.ID]; ok {
			return true
		}
		parent, ok := r.index[op.After]
		if !ok {
			return false
		}

		prev := parent
		for prev.next != nil && prev.next.id.After(op.ID) {
			prev = prev.next
		}
		e := &element{id: op.ID, value: op.Value, next: prev.next}
		prev.next = e
		r.index[op.ID] = e
		if op.ID.Clock > r.clock {
			r.clock = op.ID.Clock
		}
		return true
	case kindDelete:
		e, ok := r.index[op.ID]
		if !ok {
			return false
		}
		e.deleted = true
		return true
	}
	return true
}

func (r *Replica) park(op Op) {
	for _, p := range r.pending {
		if p == op {
			return
		}
	}
	r.pending = append(r.pending, op)
}

func (r *Replica) drainPending() {
	for len(r.pending) > 0 {
		var remaining []Op
		for _, op := range r.pending {
			if !r.integrate(op) {
				remaining = append(remaining, op)
			}
		}
		if len(remaining) == len(r.pending) {
			return
		}
		r.pending = remaining
	}
}

type encodedElement struct {
	ID      ID     `json:"id"`
	Value   string `json:"v"`
	Deleted bool   `json:"d,omitempty"`
}

type encodedState struct {
	Clock    uint64           `json:"clock"`
	Elements []encodedElement `json:"elements"`
	Pending  []Op             `json:"pending,omitempty"`
}

// Encode returns the full state of the replica including tombstones.
func (r *Replica) Encode() ([]byte, error) {
	state := encodedState{Clock: r.clock, Pending: r.pending}
	for e := r.head.next; e != nil; e = e.next {
		state.Elements = append(state.Elements, encodedElement{
			ID:      e.id,
			Value:   e.value,
			Deleted: e.deleted,
		})
	}

	return json.Marshal(state)
}

// Decode creates a replica for the given site from an encoded state.
func Decode(raw []byte, site string) (*Replica, error) {
	r := NewReplica(site)
	if len(raw) == 0 {
		return r, nil
	}

	var state encodedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %v: %w", err, document.ErrInvalidSnapshot)
	}

	prev := r.head
	for _, encoded := range state.Elements {
		if encoded.ID.IsZero() {
			return nil, fmt.Errorf("zero element id: %w", document.ErrInvalidSnapshot)
		}
		e := &element{id: encoded.ID, value: encoded.Value, deleted: encoded.Deleted}
		prev.next = e
		r.index[e.id] = e
		prev = e
	}
	r.clock = state.Clock
	r.pending = state.Pending

	return r, nil
}

// Engine creates server side replicas.
type Engine struct{}

// Name returns the configuration name of the engine.
func (Engine) Name() string {
	return EngineName
}

// New creates an empty replica.
func (Engine) New() (document.Replica, error) {
	return NewReplica(""), nil
}

// Decode creates a replica from an encoded state.
func (Engine) Decode(state []byte) (document.Replica, error) {
	return Decode(state, "")
}
