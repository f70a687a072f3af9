// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/delego/pkg/delego"
)

// sessionContextKey keys the authenticated session in a request context.
type sessionContextKey struct{}

// SessionFromContext returns the session the middleware stored for this
// request, if any.
func SessionFromContext(ctx context.Context) (delego.UserSession, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(delego.UserSession)
	return session, ok
}

// ContextWithSession returns a context carrying the session. Exposed for
// tests and for transports that authenticate outside the HTTP middleware.
func ContextWithSession(ctx context.Context, session delego.UserSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// Transport-visible error phrases. Validation detail goes to the audit
// trail only; these fixed phrases are all a caller ever sees.
const (
	phraseMissingToken = "authentication required"
	phraseInvalidToken = "token validation failed"
	phraseRejected     = "access not permitted"
)

// Middleware returns HTTP middleware that authenticates the bearer token
// against the reserved requestor IdP context, stores the session in the
// request context on success, and answers 401 with a WWW-Authenticate
// header on rejection or error.
func (s *Service) Middleware(realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, realm, "", phraseMissingToken)
				return
			}

			result := s.Authenticate(r.Context(), token, delego.RequestorIdPName)
			switch result.Status {
			case StatusAuthenticated:
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), result.Session)))
			case StatusRejected:
				unauthorized(w, realm, "insufficient_scope", phraseRejected)
			default:
				unauthorized(w, realm, "invalid_token", phraseInvalidToken)
			}
		})
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// unauthorized writes a 401 with an RFC 6750 WWW-Authenticate header. The
// error description is always one of the fixed phrases.
func unauthorized(w http.ResponseWriter, realm, errorCode, description string) {
	parts := []string{fmt.Sprintf("realm=%q", realm)}
	if errorCode != "" {
		parts = append(parts, fmt.Sprintf("error=%q", errorCode))
		parts = append(parts, fmt.Sprintf("error_description=%q", description))
	}
	w.Header().Set("WWW-Authenticate", "Bearer "+strings.Join(parts, ", "))
	http.Error(w, description, http.StatusUnauthorized)
}
