// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

/*
Package auth verifies bearer tokens presented by clients and admin callers.

Tokens are HS256 JWTs carrying a username and a role. Verification is optional
at the connection layer: a missing or invalid token downgrades the connection
to the anonymous role instead of rejecting it. The admin HTTP API can require a
valid token when security.admin_auth is enabled.

Key Components:

  - JWTManager: token generation and validation using HMAC-SHA256
  - TokenFromRequest: extracts the token from the Authorization header, the
    token query parameter or the token cookie
  - WithClaims / ClaimsFromContext: carry verified claims on a request context

Roles:

  - admin: every topic and request type, admin API mutations
  - operator: alert topics and acknowledgement
  - viewer: the default for a token without a role
  - anonymous: unauthenticated connections

Usage Example:

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
	    return err
	}
	claims, err := jwtManager.ValidateToken(auth.TokenFromRequest(r))
*/
package auth
