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
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wavelet-team/wavelet/api/types"
)

// FrameToBytes encodes the frame. Empty fields are omitted and metadata
// entries are written in key order.
func FrameToBytes(f *types.Frame) []byte {
	var b []byte
	b = appendString(b, fieldType, string(f.Type))
	b = appendString(b, fieldWorkspace, f.Workspace)
	b = appendString(b, fieldObject, f.Object)
	if f.Version != 0 {
		b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Version))
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	if f.ClientClock != 0 {
		b = protowire.AppendTag(b, fieldClientClock, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.ClientClock))
	}
	b = appendString(b, fieldCode, string(f.Code))
	b = appendString(b, fieldMessage, f.Message)

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, fieldEntryKey, k)
		entry = appendString(entry, fieldEntryValue, f.Metadata[k])
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
