// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/stacklok/delego/pkg/delego"
)

// SessionManager constructs per-request UserSession values. It holds no
// state: every request gets a fresh session with a fresh session id, and the
// session is discarded when the request ends.
type SessionManager struct {
	newID func() string
}

// NewSessionManager builds a SessionManager issuing UUID session ids.
func NewSessionManager() *SessionManager {
	return &SessionManager{newID: uuid.NewString}
}

// Build materializes a session from validated claims and a mapped role. The
// raw subject token is retained in the claim bag under the well-known key so
// token exchange can use it downstream.
func (m *SessionManager) Build(vc *ValidatedClaims, role delego.Role, rawToken string) delego.UserSession {
	claims := make(map[string]any, len(vc.Claims)+1)
	maps.Copy(claims, vc.Claims)
	claims[delego.SubjectTokenClaim] = rawToken

	username := vc.Username
	if username == "" {
		username = vc.UserID
	}

	return delego.UserSession{
		SessionID:      m.newID(),
		UserID:         vc.UserID,
		Username:       username,
		LegacyUsername: vc.LegacyUsername,
		Email:          vc.Email,
		Role:           role,
		CustomRoles:    slices.Clone(vc.RawRoles),
		Scopes:         slices.Clone(vc.Scopes),
		IdPName:        vc.IdP.Name,
		Claims:         claims,
	}
}

// BuildRejected materializes the powerless session attached to a Rejected
// result: Unassigned role, no scopes, no custom roles. It is safe to hand to
// the transport for logging because nothing downstream grants it access.
func (m *SessionManager) BuildRejected(vc *ValidatedClaims, rawToken string) delego.UserSession {
	claims := make(map[string]any, len(vc.Claims)+1)
	maps.Copy(claims, vc.Claims)
	claims[delego.SubjectTokenClaim] = rawToken

	username := vc.Username
	if username == "" {
		username = vc.UserID
	}

	return delego.UserSession{
		SessionID:      m.newID(),
		UserID:         vc.UserID,
		Username:       username,
		LegacyUsername: vc.LegacyUsername,
		Email:          vc.Email,
		Role:           delego.RoleUnassigned,
		IdPName:        vc.IdP.Name,
		Claims:         claims,
	}
}
