// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package authz

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/juju/clock"

	"github.com/tomtom215/changewatch/internal/logging"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Actions checked against the policy.
const (
	ActionSubscribe   = "subscribe"
	ActionRequest     = "request"
	ActionAcknowledge = "acknowledge"
	ActionRun         = "run"
	ActionWrite       = "write"
)

// DefaultRole is used for roles the policy does not know.
const DefaultRole = "anonymous"

// Enforcer wraps the Casbin enforcer with a decision cache.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
}

// NewEnforcer creates an enforcer from the embedded model and policy.
// A cacheTTL of zero disables decision caching.
func NewEnforcer(cacheTTL time.Duration) (*Enforcer, error) {
	return NewEnforcerWithClock(cacheTTL, clock.WallClock)
}

// NewEnforcerWithClock is NewEnforcer with an explicit cache clock.
func NewEnforcerWithClock(cacheTTL time.Duration, clk clock.Clock) (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadEmbeddedPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	e := &Enforcer{enforcer: enforcer}
	if cacheTTL > 0 {
		e.cache = newDecisionCache(cacheTTL, clk)
	}
	return e, nil
}

// loadEmbeddedPolicy parses and loads the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 {
			continue
		}

		ptype, rule := parts[0], parts[1:]
		switch ptype {
		case "p":
			if len(rule) >= 3 {
				if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
					return fmt.Errorf("failed to add policy %v: %w", rule, err)
				}
			}
		case "g":
			if _, err := enforcer.AddGroupingPolicy(rule[0], rule[1]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", rule, err)
			}
		}
	}
	return nil
}

// Enforce checks if the role can perform the action on the object.
func (e *Enforcer) Enforce(role, object, action string) (bool, error) {
	k := decisionKey{role: role, object: object, action: action}
	if e.cache != nil {
		if allowed, ok := e.cache.get(k); ok {
			return allowed, nil
		}
	}

	allowed, err := e.enforcer.Enforce(role, object, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}

	if e.cache != nil {
		e.cache.put(k, allowed)
	}
	return allowed, nil
}

// allow resolves unknown roles to DefaultRole and fails closed on errors.
func (e *Enforcer) allow(role, object, action string) bool {
	if !e.knownRole(role) {
		role = DefaultRole
	}
	allowed, err := e.Enforce(role, object, action)
	if err != nil {
		logging.Warn().Err(err).Str("role", role).Str("object", object).Msg("Authorization check failed")
		return false
	}
	return allowed
}

func (e *Enforcer) knownRole(role string) bool {
	if role == "" {
		return false
	}
	if role == DefaultRole {
		return true
	}
	//nolint:errcheck // only fails on a nil role manager
	roles, _ := e.enforcer.GetRolesForUser(role)
	if len(roles) > 0 {
		return true
	}
	//nolint:errcheck // same as above
	users, _ := e.enforcer.GetUsersForRole(role)
	return len(users) > 0
}

// CanSubscribe reports whether role may join topic.
func (e *Enforcer) CanSubscribe(role, topic string) bool {
	return e.allow(role, "topic:"+topic, ActionSubscribe)
}

// CanRequest reports whether role may issue a request for dataType.
func (e *Enforcer) CanRequest(role, dataType string) bool {
	return e.allow(role, "request:"+dataType, ActionRequest)
}

// CanAdmin reports whether role may perform action on an admin resource
// such as "alerts" or "thresholds".
func (e *Enforcer) CanAdmin(role, resource, action string) bool {
	return e.allow(role, "api:"+resource, action)
}

// Close drops cached decisions.
func (e *Enforcer) Close() {
	if e.cache != nil {
		e.cache.reset()
	}
}
