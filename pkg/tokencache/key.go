// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokencache

import (
	"slices"
	"strings"
)

// Key identifies one cached exchanged token. Two exchange requests share an
// entry exactly when all three fields match.
type Key struct {
	// SessionID scopes the entry to one authenticated session.
	SessionID string
	// Audience is the downstream audience the token was minted for.
	Audience string
	// Scope is the canonical scope string, see CanonicalScope.
	Scope string
}

// NewKey builds a cache key with the scope list canonicalized.
func NewKey(sessionID, audience string, scopes []string) Key {
	return Key{
		SessionID: sessionID,
		Audience:  audience,
		Scope:     CanonicalScope(scopes),
	}
}

// CanonicalScope collapses a scope list into a canonical string: each element
// is lowercased and split on ASCII whitespace, the resulting set is sorted
// and deduplicated, and the members are joined with single spaces. "b a" and
// ["a", "b"] canonicalize identically.
func CanonicalScope(scopes []string) string {
	var parts []string
	for _, scope := range scopes {
		parts = append(parts, strings.Fields(strings.ToLower(scope))...)
	}
	slices.Sort(parts)
	parts = slices.Compact(parts)
	return strings.Join(parts, " ")
}
