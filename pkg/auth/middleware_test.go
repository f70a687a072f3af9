// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/delego/pkg/delego"
)

func middlewareHandler(t *testing.T, svc *Service) (http.Handler, *delego.UserSession) {
	t.Helper()

	var seen delego.UserSession
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		require.True(t, ok)
		seen = session
		w.WriteHeader(http.StatusOK)
	})
	return svc.Middleware("delego")(next), &seen
}

func TestMiddlewareAuthenticatedRequest(t *testing.T) {
	t.Parallel()

	f := newIdPFixture(t)
	svc, _ := newTestService(t, f.idpConfig())
	handler, seen := middlewareHandler(t, svc)

	token := f.signToken(t, jwt.MapClaims{
		"realm_access": map[string]any{"roles": []any{"admin"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, delego.RoleAdmin, seen.Role)
	assert.Equal(t, "u-1", seen.UserID)
}

func TestMiddlewareMissingToken(t *testing.T) {
	t.Parallel()

	f := newIdPFixture(t)
	svc, _ := newTestService(t, f.idpConfig())
	handler, _ := middlewareHandler(t, svc)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			challenge := rec.Header().Get("WWW-Authenticate")
			assert.Equal(t, `Bearer realm="delego"`, challenge)
			assert.Contains(t, rec.Body.String(), phraseMissingToken)
		})
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	t.Parallel()

	f := newIdPFixture(t)
	svc, _ := newTestService(t, f.idpConfig())
	handler, _ := middlewareHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, `error="invalid_token"`)
	assert.Contains(t, challenge, `error_description="`+phraseInvalidToken+`"`)
	// The internal validation detail never reaches the response.
	assert.NotContains(t, rec.Body.String(), "jwt")
}

func TestMiddlewareRejectedToken(t *testing.T) {
	t.Parallel()

	f := newIdPFixture(t)
	cfg := f.idpConfig()
	cfg.RoleMappings.RejectUnmappedRoles = true
	svc, _ := newTestService(t, cfg)
	handler, _ := middlewareHandler(t, svc)

	token := f.signToken(t, jwt.MapClaims{
		"realm_access": map[string]any{"roles": []any{"developer"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	challenge := rec.Header().Get("WWW-Authenticate")
	assert.Contains(t, challenge, `error="insufficient_scope"`)
	assert.Contains(t, rec.Body.String(), phraseRejected)
	// The rejection reason is audit-only.
	assert.NotContains(t, rec.Body.String(), "unmapped")
}

func TestSessionContextRoundTrip(t *testing.T) {
	t.Parallel()

	_, ok := SessionFromContext(t.Context())
	assert.False(t, ok)

	session := delego.UserSession{SessionID: "s-1", UserID: "u-1"}
	ctx := ContextWithSession(t.Context(), session)
	got, ok := SessionFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, session, got)
}
