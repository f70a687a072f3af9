// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"slices"
	"strings"

	"github.com/stacklok/delego/pkg/delego"
)

// RoleMapper assigns a framework role from a token's raw roles using the
// selected IdP's role mappings. It never fails: when mapping collapses it
// returns the Unassigned sentinel with a reason, and the authentication
// service turns that into a Rejected result.
type RoleMapper struct{}

// NewRoleMapper builds a RoleMapper.
func NewRoleMapper() *RoleMapper {
	return &RoleMapper{}
}

// Map selects the framework role for the validated claims. Framework roles
// are tried in declared priority order (admin, user, guest, then customs in
// configuration order); the first role with a matching raw role wins. When
// nothing matches, the mapping falls back to the default role unless the IdP
// rejects unmapped roles.
//
// The returned reason is empty exactly when the role is not Unassigned.
func (*RoleMapper) Map(vc *ValidatedClaims) (delego.Role, string) {
	if vc == nil {
		return delego.RoleUnassigned, "no validated claims"
	}

	mapping := vc.IdP.RoleMappings
	for _, role := range mapping.DeclaredRoles() {
		matches := mapping.MatchesFor(role)
		for _, raw := range vc.RawRoles {
			if slices.Contains(matches, raw) {
				return role, ""
			}
		}
	}

	if mapping.RejectUnmappedRoles {
		return delego.RoleUnassigned, "unmapped roles: " + strings.Join(vc.RawRoles, ", ")
	}
	if mapping.DefaultRole == "" || mapping.DefaultRole == delego.RoleUnassigned {
		return delego.RoleUnassigned, "no role mapping matched and no default role is configured"
	}
	return mapping.DefaultRole, ""
}
