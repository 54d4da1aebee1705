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

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wavelet-team/wavelet/internal/validation"
)

// AnonymousUser is the user of a client that names nobody while tokens
// are disabled.
const AnonymousUser = "anonymous"

// ErrUnauthenticated is returned when a client cannot be authenticated.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the user of a connecting client.
type Authenticator struct {
	tokens *TokenManager
}

// NewAuthenticator creates an Authenticator. A nil manager disables token
// checks and trusts the user named by the client.
func NewAuthenticator(tokens *TokenManager) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool {
	return a.tokens != nil
}

// Authenticate returns the user of the authorization value, a bearer
// token. claimed is the user the client names itself, used only while
// tokens are disabled.
func (a *Authenticator) Authenticate(authorization, claimed string) (string, error) {
	if a.tokens == nil {
		if claimed == "" {
			return AnonymousUser, nil
		}
		if err := validation.ValidateValue(claimed, "required,slug"); err != nil {
			return "", fmt.Errorf("user %q: %v: %w", claimed, err, ErrUnauthenticated)
		}
		return claimed, nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("authorization is not provided: %w", ErrUnauthenticated)
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrUnauthenticated)
	}
	return claims.User, nil
}
