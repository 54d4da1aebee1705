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

// Package converter converts frames to and from the binary wire format of
// the stream transport. The layout follows protobuf wire encoding so that
// clients can decode frames with generated code of an equivalent message.
package converter

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidBytes is returned when bytes cannot be decoded into a frame.
var ErrInvalidBytes = errors.New("invalid frame bytes")

const (
	fieldType        protowire.Number = 1
	fieldWorkspace   protowire.Number = 2
	fieldObject      protowire.Number = 3
	fieldVersion     protowire.Number = 4
	fieldPayload     protowire.Number = 5
	fieldClientClock protowire.Number = 6
	fieldCode        protowire.Number = 7
	fieldMessage     protowire.Number = 8
	fieldMetadata    protowire.Number = 9
)

const (
	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2
)
