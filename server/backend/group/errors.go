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

package group

import "errors"

var (
	// ErrAccessDenied is returned when the access check refused the member.
	ErrAccessDenied = errors.New("access denied")

	// ErrReadOnly is returned when a member with a read grant submits an
	// update.
	ErrReadOnly = errors.New("read only member")

	// ErrNotMember is returned when an update comes from a session that is
	// not a member of the group.
	ErrNotMember = errors.New("not a member of the group")

	// ErrInvalidUpdate is returned when the delta of an update cannot be
	// merged.
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrGroupEvicting is returned when the group is being evicted. The
	// caller should acquire the group again.
	ErrGroupEvicting = errors.New("group is evicting")

	// ErrGroupClosed is returned when the group was closed.
	ErrGroupClosed = errors.New("group is closed")

	// ErrBackpressureDisconnect is the reason given to members whose
	// outbound queue was full.
	ErrBackpressureDisconnect = errors.New("disconnected by backpressure")

	// ErrFanoutGap is returned when a remote envelope skipped sequence
	// numbers of its origin. The group must be reloaded from durable storage.
	ErrFanoutGap = errors.New("fan-out sequence gap")

	// ErrFanoutCatchUp is returned when the first envelope of an origin is
	// not its first one. Deltas of the origin accepted before may not be
	// durable yet, so the group should be reloaded later.
	ErrFanoutCatchUp = errors.New("fan-out first contact after start")
)
