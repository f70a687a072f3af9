// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delego

import "slices"

// Role is a framework role assigned by per-IdP role mapping. The built-in
// roles form a fixed priority order; configurations may add custom roles
// which rank after the built-ins in configuration order.
type Role string

// Built-in framework roles, in mapping priority order.
const (
	// RoleAdmin is the highest-priority built-in role.
	RoleAdmin Role = "admin"
	// RoleUser is the standard authenticated role.
	RoleUser Role = "user"
	// RoleGuest is the lowest-privilege built-in role.
	RoleGuest Role = "guest"
	// RoleUnassigned is the sentinel returned when role mapping collapses.
	// The authentication service treats it as a rejection; it must never
	// reach a delegation module on an authenticated path.
	RoleUnassigned Role = "unassigned"
)

// BuiltinRolePriority is the fixed priority order of built-in roles used by
// the role mapper. Custom roles follow in configuration order.
var BuiltinRolePriority = []Role{RoleAdmin, RoleUser, RoleGuest}

// SubjectTokenClaim is the well-known session claim key holding the raw
// bearer token the session was authenticated from. Token exchange reads it
// as the RFC 8693 subject token. The leading underscore keeps it from
// colliding with issuer-provided claims.
const SubjectTokenClaim = "_subject_token"

// RequestorIdPName is the reserved logical IdP name the transport uses to
// authenticate incoming requests. Configurations must define at least one
// IdP under it; other identity contexts use other names.
const RequestorIdPName = "requestor-jwt"

// UserSession is the immutable per-request identity. It is built by the
// session manager after validation, passed by value into delegation modules,
// and discarded at request end. It must never be stored across requests.
type UserSession struct {
	// SessionID is a fresh UUID per request, correlating audit entries.
	SessionID string `json:"sessionId"`
	// UserID is the stable subject identifier extracted via claim mapping.
	UserID string `json:"userId"`
	// Username is the display name; falls back to UserID when unmapped.
	Username string `json:"username"`
	// LegacyUsername carries the pre-migration account name when the IdP
	// maps one; backends that still key on it read it from here.
	LegacyUsername string `json:"legacyUsername,omitempty"`
	// Email is the mapped email claim, if any.
	Email string `json:"email,omitempty"`
	// Role is the mapped framework role.
	Role Role `json:"role"`
	// CustomRoles is the full raw role set from the token, unfiltered by
	// mapping, for fine-grained checks.
	CustomRoles []string `json:"customRoles,omitempty"`
	// Scopes is the raw scope set parsed from the scopes claim.
	Scopes []string `json:"scopes,omitempty"`
	// IdPName is the logical name of the IdP that validated the token.
	IdPName string `json:"idpName"`
	// Claims is the opaque claim bag, including the raw subject token under
	// SubjectTokenClaim. Values here are never logged wholesale.
	Claims map[string]any `json:"-"`
}

// SubjectToken returns the raw bearer token the session was built from, or
// empty if the session carries none.
func (s UserSession) SubjectToken() string {
	if s.Claims == nil {
		return ""
	}
	token, _ := s.Claims[SubjectTokenClaim].(string)
	return token
}

// HasRole reports whether the session's mapped role equals role.
func (s UserSession) HasRole(role Role) bool {
	return s.Role == role
}

// HasCustomRole reports whether the raw role set contains role.
func (s UserSession) HasCustomRole(role string) bool {
	return slices.Contains(s.CustomRoles, role)
}

// HasScope reports whether the session carries the given scope.
func (s UserSession) HasScope(scope string) bool {
	return slices.Contains(s.Scopes, scope)
}
