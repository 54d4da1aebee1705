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

package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/wavelet-team/wavelet/pkg/document/key"
)

// DefaultCasbinModel matches users or their roles against document paths of
// the form /workspace/object. A "write" grant implies "read".
const DefaultCasbinModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (g(r.sub, p.sub) || p.sub == "*") && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "write" || p.act == "*")
`

// Casbin decides with a casbin policy.
type Casbin struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCasbin creates a casbin authorizer from the configuration.
func NewCasbin(conf *CasbinConfig) (*Casbin, error) {
	text := conf.Model
	if text == "" {
		text = DefaultCasbinModel
	}
	m, err := model.NewModelFromString(text)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if conf.PolicyPath != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(conf.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	for _, line := range conf.Policies {
		if err := addPolicyLine(enforcer, line); err != nil {
			return nil, err
		}
	}

	return &Casbin{enforcer: enforcer}, nil
}

func addPolicyLine(enforcer *casbin.SyncedEnforcer, line string) error {
	var fields []string
	for _, f := range strings.Split(line, ",") {
		fields = append(fields, strings.TrimSpace(f))
	}
	if len(fields) < 2 {
		return fmt.Errorf("policy line %q: %w", line, ErrEmptyPolicy)
	}

	var err error
	switch {
	case fields[0] == "p":
		_, err = enforcer.AddPolicy(fields[1:])
	case strings.HasPrefix(fields[0], "g"):
		_, err = enforcer.AddNamedGroupingPolicy(fields[0], fields[1:])
	default:
		return fmt.Errorf("policy line %q: unknown type %q", line, fields[0])
	}
	if err != nil {
		return fmt.Errorf("add policy line %q: %w", line, err)
	}
	return nil
}

// Object returns the casbin object of the document.
func Object(k key.Key) string {
	return "/" + k.Workspace + "/" + k.Object
}

// Check enforces the write grant first, then the read grant.
func (c *Casbin) Check(_ context.Context, user string, k key.Key, mode Mode) (Decision, error) {
	obj := Object(k)
	if mode == ModeWrite {
		ok, err := c.enforcer.Enforce(user, obj, string(ModeWrite))
		if err != nil {
			return Deny, fmt.Errorf("enforce %s on %s: %v: %w", user, obj, err, ErrCheckFailed)
		}
		if ok {
			return AllowWrite, nil
		}
	}

	ok, err := c.enforcer.Enforce(user, obj, string(ModeRead))
	if err != nil {
		return Deny, fmt.Errorf("enforce %s on %s: %v: %w", user, obj, err, ErrCheckFailed)
	}
	if ok {
		return AllowRead, nil
	}
	return Deny, nil
}
