// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

// Package authz decides which topics, request types and admin actions a role
// may use, with Casbin RBAC over an embedded model and policy.
//
// # RBAC Model
//
//	[matchers]
//	m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
//
// Objects are namespaced: "topic:<topic>", "request:<dataType>" and
// "api:<resource>". Roles inherit upward: admin > operator > viewer > anonymous.
// A role the policy does not know is treated as anonymous.
//
// # Usage Example
//
//	enforcer, err := authz.NewEnforcer(5 * time.Minute)
//	if err != nil {
//	    return err
//	}
//	defer enforcer.Close()
//
//	if !enforcer.CanSubscribe(session.Role, "alerts") {
//	    // reply subscribe:error FORBIDDEN
//	}
package authz
