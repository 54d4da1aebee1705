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

package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wavelet-team/wavelet/api/types"
)

func TestFrame(t *testing.T) {
	t.Run("validate inbound frames test", func(t *testing.T) {
		assert.NoError(t, (&types.Frame{Type: types.FrameSubscribe, Workspace: "acme", Object: "Notes"}).Validate())
		assert.NoError(t, (&types.Frame{Type: types.FrameUpdate, Payload: []byte("{}")}).Validate())
		assert.NoError(t, (&types.Frame{Type: types.FramePing}).Validate())

		assert.ErrorIs(t, (&types.Frame{}).Validate(), types.ErrInvalidFrame)
		assert.ErrorIs(t, (&types.Frame{Type: "shout"}).Validate(), types.ErrInvalidFrame)
		assert.ErrorIs(t, (&types.Frame{Type: types.FrameSubscribe, Workspace: "Acme Inc"}).Validate(), types.ErrInvalidFrame)
		assert.ErrorIs(t, (&types.Frame{Type: types.FrameUpdate}).Validate(), types.ErrInvalidFrame)
		assert.ErrorIs(t, (&types.Frame{Type: types.FrameDelta}).Validate(), types.ErrInvalidFrame)
		assert.ErrorIs(t, (&types.Frame{Type: types.FrameUpdate, Payload: []byte("x"), Version: -1}).Validate(), types.ErrInvalidFrame)
	})
}
