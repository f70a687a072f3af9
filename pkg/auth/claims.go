// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"strings"

	"github.com/stacklok/delego/pkg/config"
)

// ValidatedClaims is the outcome of a successful token validation: the raw
// claim bag, the framework fields extracted through the IdP's claim
// mappings, and the IdP configuration the token matched (the role mapper
// needs its role mappings).
type ValidatedClaims struct {
	// IdP is the configuration the token was validated against.
	IdP config.IdPConfig
	// Claims is the full decoded claim bag.
	Claims map[string]any
	// UserID is the mapped subject identifier. Always present; validation
	// fails with MissingRequiredClaim when the mapped path is absent.
	UserID string
	// Username is the mapped display name, empty when unmapped.
	Username string
	// LegacyUsername is the mapped pre-migration account name, if any.
	LegacyUsername string
	// Email is the mapped email claim, if any.
	Email string
	// RawRoles is the raw roles list from the mapped roles claim.
	RawRoles []string
	// Scopes is the parsed scope set from the mapped scopes claim.
	Scopes []string
}

// lookupClaimPath resolves a dotted path ("realm_access.roles") into the
// claim bag. A missing segment yields (nil, false); that is not an error
// unless the caller requires the field.
func lookupClaimPath(claims map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = claims
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringClaim resolves a path to a string field. Non-string values are
// treated as absent.
func stringClaim(claims map[string]any, path string) string {
	value, ok := lookupClaimPath(claims, path)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// stringListClaim resolves a path to a list of strings. A bare string is
// treated as a one-element list; non-string array elements are skipped.
func stringListClaim(claims map[string]any, path string) []string {
	value, ok := lookupClaimPath(claims, path)
	if !ok {
		return nil
	}
	return toStringList(value)
}

// scopesClaim resolves the scopes claim. OAuth providers emit either a
// space-separated string ("a b") or an array; both parse to the same set.
func scopesClaim(claims map[string]any, path string) []string {
	value, ok := lookupClaimPath(claims, path)
	if !ok {
		return nil
	}
	if s, isString := value.(string); isString {
		return strings.Fields(s)
	}
	return toStringList(value)
}

func toStringList(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		return list
	default:
		return nil
	}
}

// extractMappedFields applies the IdP's claim mappings to a decoded claim
// bag and fills the framework fields of vc.
func (vc *ValidatedClaims) extractMappedFields() {
	mappings := vc.IdP.ClaimMappings
	vc.UserID = stringClaim(vc.Claims, mappings.UserID)
	vc.Username = stringClaim(vc.Claims, mappings.Username)
	vc.LegacyUsername = stringClaim(vc.Claims, mappings.LegacyUsername)
	vc.Email = stringClaim(vc.Claims, mappings.Email)
	vc.RawRoles = stringListClaim(vc.Claims, mappings.Roles)
	vc.Scopes = scopesClaim(vc.Claims, mappings.Scopes)
}
