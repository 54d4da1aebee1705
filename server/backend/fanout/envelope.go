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
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wavelet-team/wavelet/pkg/document/key"
)

// ErrInvalidEnvelope is returned when an envelope cannot be decoded.
var ErrInvalidEnvelope = errors.New("invalid envelope")

const (
	fieldKey     protowire.Number = 1
	fieldOrigin  protowire.Number = 2
	fieldSeq     protowire.Number = 3
	fieldVersion protowire.Number = 4
	fieldPayload protowire.Number = 5
)

// Envelope carries one accepted delta between processes.
type Envelope struct {
	Key key.Key

	// Origin is the id of the process that accepted the delta.
	Origin string

	// Seq increases by one for every delta the origin publishes for the
	// document.
	Seq uint64

	// Version is the version of the group at the origin after the delta.
	Version int64

	Payload []byte
}

// Marshal encodes the envelope in protobuf wire format.
func (e *Envelope) Marshal() []byte {
	combined := e.Key.CombinedKey()
	b := make([]byte, 0, len(combined)+len(e.Origin)+len(e.Payload)+32)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, combined)
	b = protowire.AppendTag(b, fieldOrigin, protowire.BytesType)
	b = protowire.AppendString(b, e.Origin)
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Seq)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Version))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	return b
}

// Unmarshal decodes an envelope produced by Marshal. Unknown fields are
// skipped.
func Unmarshal(b []byte) (*Envelope, error) {
	env := &Envelope{}
	var combined string

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
		}
		b = b[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("key: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
			}
			combined, b = v, b[n:]
		case num == fieldOrigin && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("origin: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
			}
			env.Origin, b = v, b[n:]
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("seq: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
			}
			env.Seq, b = v, b[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("version: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
			}
			env.Version, b = int64(v), b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("payload: %v: %w", protowire.ParseError(n), ErrInvalidEnvelope)
			}
			env.Payload, b = append([]byte(nil), v...), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(n), ErrInvalidEnvelope)
			}
			b = b[n:]
		}
	}

	k, err := key.FromCombinedKey(combined)
	if err != nil {
		return nil, fmt.Errorf("key %q: %v: %w", combined, err, ErrInvalidEnvelope)
	}
	env.Key = k
	if env.Origin == "" || env.Seq == 0 {
		return nil, fmt.Errorf("missing origin or seq: %w", ErrInvalidEnvelope)
	}

	return env, nil
}
