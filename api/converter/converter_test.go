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

package converter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wavelet-team/wavelet/api/converter"
	"github.com/wavelet-team/wavelet/api/types"
)

func TestConverter(t *testing.T) {
	t.Run("frame round trip test", func(t *testing.T) {
		frame := &types.Frame{
			Type:        types.FrameUpdate,
			Workspace:   "acme",
			Object:      "notes",
			Version:     42,
			Payload:     []byte{0x00, 0x01, 0xff},
			ClientClock: 7,
		}
		decoded, err := converter.BytesToFrame(converter.FrameToBytes(frame))
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)
	})

	t.Run("error frame with metadata test", func(t *testing.T) {
		frame := types.NewErrorFrame(types.CodeAccessDenied, "access denied", map[string]string{
			"workspace": "acme",
			"object":    "notes",
		})
		decoded, err := converter.BytesToFrame(converter.FrameToBytes(frame))
		require.NoError(t, err)
		assert.Equal(t, frame, decoded)
	})

	t.Run("unknown fields are skipped test", func(t *testing.T) {
		b := converter.FrameToBytes(&types.Frame{Type: types.FramePing})
		b = protowire.AppendTag(b, 99, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)

		decoded, err := converter.BytesToFrame(b)
		require.NoError(t, err)
		assert.Equal(t, types.FramePing, decoded.Type)
	})

	t.Run("truncated bytes test", func(t *testing.T) {
		b := converter.FrameToBytes(&types.Frame{Type: types.FrameUpdate, Payload: []byte("abc")})
		_, err := converter.BytesToFrame(b[:len(b)-1])
		assert.ErrorIs(t, err, converter.ErrInvalidBytes)
	})
}
