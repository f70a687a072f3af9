// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
)

func claimsWithRoles(mapping config.RoleMapping, rawRoles ...string) *ValidatedClaims {
	return &ValidatedClaims{
		IdP:      config.IdPConfig{RoleMappings: mapping},
		RawRoles: rawRoles,
	}
}

func TestMapPriorityOrder(t *testing.T) {
	t.Parallel()

	mapping := config.RoleMapping{
		Admin: []string{"superuser"},
		User:  []string{"member"},
		Guest: []string{"visitor"},
	}

	tests := []struct {
		name     string
		rawRoles []string
		want     delego.Role
	}{
		{"admin wins over user", []string{"member", "superuser"}, delego.RoleAdmin},
		{"user wins over guest", []string{"visitor", "member"}, delego.RoleUser},
		{"guest alone", []string{"visitor"}, delego.RoleGuest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			role, reason := NewRoleMapper().Map(claimsWithRoles(mapping, tt.rawRoles...))
			assert.Equal(t, tt.want, role)
			assert.Empty(t, reason)
		})
	}
}

func TestMapCustomRolesAfterBuiltins(t *testing.T) {
	t.Parallel()

	mapping := config.RoleMapping{
		User: []string{"member"},
		Custom: []config.CustomRoleMapping{
			{Role: "auditor", Matches: []string{"audit-team"}},
			{Role: "operator", Matches: []string{"ops-team"}},
		},
	}

	role, reason := NewRoleMapper().Map(claimsWithRoles(mapping, "ops-team"))
	assert.Equal(t, delego.Role("operator"), role)
	assert.Empty(t, reason)

	// A built-in match still outranks a custom one.
	role, _ = NewRoleMapper().Map(claimsWithRoles(mapping, "ops-team", "member"))
	assert.Equal(t, delego.RoleUser, role)
}

func TestMapDefaultRole(t *testing.T) {
	t.Parallel()

	mapping := config.RoleMapping{
		Admin:       []string{"admin"},
		User:        []string{"user"},
		DefaultRole: delego.RoleGuest,
	}

	role, reason := NewRoleMapper().Map(claimsWithRoles(mapping, "developer"))
	assert.Equal(t, delego.RoleGuest, role)
	assert.Empty(t, reason)
}

func TestMapRejectUnmappedRoles(t *testing.T) {
	t.Parallel()

	mapping := config.RoleMapping{
		Admin:               []string{"admin"},
		DefaultRole:         delego.RoleGuest,
		RejectUnmappedRoles: true,
	}

	role, reason := NewRoleMapper().Map(claimsWithRoles(mapping, "developer"))
	assert.Equal(t, delego.RoleUnassigned, role)
	assert.Equal(t, "unmapped roles: developer", reason)
}

func TestMapNoDefaultCollapsesToUnassigned(t *testing.T) {
	t.Parallel()

	role, reason := NewRoleMapper().Map(claimsWithRoles(config.RoleMapping{}, "anything"))
	assert.Equal(t, delego.RoleUnassigned, role)
	assert.NotEmpty(t, reason)

	// Unassigned as the configured default is never a grant.
	mapping := config.RoleMapping{DefaultRole: delego.RoleUnassigned}
	role, reason = NewRoleMapper().Map(claimsWithRoles(mapping))
	assert.Equal(t, delego.RoleUnassigned, role)
	assert.NotEmpty(t, reason)
}

func TestMapNilClaims(t *testing.T) {
	t.Parallel()

	role, reason := NewRoleMapper().Map(nil)
	assert.Equal(t, delego.RoleUnassigned, role)
	assert.NotEmpty(t, reason)
}

func TestMapIdempotentOnIdentityMapping(t *testing.T) {
	t.Parallel()

	// Feeding a framework role back as the raw role yields the same
	// framework role when the mapping is the identity.
	mapping := config.RoleMapping{
		Admin: []string{"admin"},
		User:  []string{"user"},
		Guest: []string{"guest"},
	}

	for _, role := range delego.BuiltinRolePriority {
		mapped, _ := NewRoleMapper().Map(claimsWithRoles(mapping, string(role)))
		assert.Equal(t, role, mapped)
	}
}

func TestMapRangeIsDeclaredRolesOrUnassigned(t *testing.T) {
	t.Parallel()

	mapping := config.RoleMapping{
		Admin:       []string{"a"},
		User:        []string{"b"},
		DefaultRole: delego.RoleGuest,
		Custom:      []config.CustomRoleMapping{{Role: "auditor", Matches: []string{"c"}}},
	}
	declared := mapping.DeclaredRoles()

	inputs := [][]string{nil, {"a"}, {"b"}, {"c"}, {"z"}, {"a", "z"}, {"c", "b"}}
	for _, raw := range inputs {
		role, _ := NewRoleMapper().Map(claimsWithRoles(mapping, raw...))
		if role != delego.RoleUnassigned && role != delego.RoleGuest {
			assert.Contains(t, declared, role)
		}
	}
}
