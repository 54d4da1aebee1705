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

// Package access consults the access control collaborator before a session
// joins a document. Decisions are never cached: every admission asks again.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/wavelet-team/wavelet/pkg/document/key"
)

// ErrCheckFailed is returned when the collaborator could not be consulted.
var ErrCheckFailed = errors.New("access check failed")

// Mode is the access a session asks for.
type Mode string

const (
	// ModeRead only receives updates.
	ModeRead Mode = "read"

	// ModeWrite receives and submits updates.
	ModeWrite Mode = "write"
)

// ParseMode returns the mode of the given string. An empty string asks for
// write access.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWrite:
		return ModeWrite, nil
	case ModeRead:
		return ModeRead, nil
	default:
		return "", fmt.Errorf("unknown mode %q: %w", s, ErrCheckFailed)
	}
}

// Decision is the grant of an access check.
type Decision int

const (
	// Deny refuses the admission.
	Deny Decision = iota

	// AllowRead admits a member whose updates are rejected.
	AllowRead

	// AllowWrite admits a member that may submit updates.
	AllowWrite
)

// String returns the string form of the decision.
func (d Decision) String() string {
	switch d {
	case AllowRead:
		return "allow-read"
	case AllowWrite:
		return "allow-write"
	default:
		return "deny"
	}
}

// Allowed reports whether the decision admits the member.
func (d Decision) Allowed() bool {
	return d == AllowRead || d == AllowWrite
}

// Clamp restricts the decision to the requested mode.
func (d Decision) Clamp(mode Mode) Decision {
	if mode == ModeRead && d == AllowWrite {
		return AllowRead
	}
	return d
}

// Authorizer decides whether a user may access a document.
type Authorizer interface {
	// Check returns the decision for the user on the document. The decision
	// never grants more than the requested mode.
	Check(ctx context.Context, user string, k key.Key, mode Mode) (Decision, error)
}

// AllowAll grants every request. It is meant for development.
type AllowAll struct{}

// Check grants the requested mode.
func (AllowAll) Check(_ context.Context, _ string, _ key.Key, mode Mode) (Decision, error) {
	return AllowWrite.Clamp(mode), nil
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, user string, k key.Key, mode Mode) (Decision, error)

// Check calls f.
func (f AuthorizerFunc) Check(ctx context.Context, user string, k key.Key, mode Mode) (Decision, error) {
	return f(ctx, user, k, mode)
}
