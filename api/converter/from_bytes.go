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

package converter

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wavelet-team/wavelet/api/types"
)

// BytesToFrame decodes a frame produced by FrameToBytes. Unknown fields are
// skipped.
func BytesToFrame(b []byte) (*types.Frame, error) {
	f := &types.Frame{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("tag: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && isStringField(num):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(n), ErrInvalidBytes)
			}
			setString(f, num, v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("payload: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
			}
			f.Payload, b = append([]byte(nil), v...), b[n:]
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("version: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
			}
			f.Version, b = int64(v), b[n:]
		case num == fieldClientClock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("client clock: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
			}
			f.ClientClock, b = int64(v), b[n:]
		case num == fieldMetadata && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("metadata: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
			}
			k, value, err := consumeEntry(v)
			if err != nil {
				return nil, err
			}
			if f.Metadata == nil {
				f.Metadata = make(map[string]string)
			}
			f.Metadata[k] = value
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %v: %w", num, protowire.ParseError(n), ErrInvalidBytes)
			}
			b = b[n:]
		}
	}

	return f, nil
}

func isStringField(num protowire.Number) bool {
	switch num {
	case fieldType, fieldWorkspace, fieldObject, fieldCode, fieldMessage:
		return true
	}
	return false
}

func setString(f *types.Frame, num protowire.Number, v string) {
	switch num {
	case fieldType:
		f.Type = types.FrameType(v)
	case fieldWorkspace:
		f.Workspace = v
	case fieldObject:
		f.Object = v
	case fieldCode:
		f.Code = types.ErrorCode(v)
	case fieldMessage:
		f.Message = v
	}
}

func consumeEntry(b []byte) (string, string, error) {
	var k, v string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("metadata tag: %v: %w", protowire.ParseError(n), ErrInvalidBytes)
		}
		b = b[n:]

		if typ != protowire.BytesType || (num != fieldEntryKey && num != fieldEntryValue) {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("metadata field %d: %v: %w", num, protowire.ParseError(n), ErrInvalidBytes)
			}
			b = b[n:]
			continue
		}

		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", fmt.Errorf("metadata field %d: %v: %w", num, protowire.ParseError(n), ErrInvalidBytes)
		}
		if num == fieldEntryKey {
			k = s
		} else {
			v = s
		}
		b = b[n:]
	}
	return k, v, nil
}
