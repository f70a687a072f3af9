// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"

	"github.com/stacklok/delego/pkg/logger"
)

// WellKnownOAuthResourcePath is the RFC 9728 protected-resource metadata
// path. It must be reachable without authentication.
const WellKnownOAuthResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the OAuth 2.0 Protected Resource Metadata
// document (RFC 9728) the engine serves to advertise its trusted issuers.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

// NewProtectedResourceHandler serves RFC 9728 metadata listing the trusted
// IdP issuers as authorization servers. resourceURL identifies this engine
// as the protected resource.
func NewProtectedResourceHandler(resourceURL string, issuers, scopes []string) http.Handler {
	metadata := ProtectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   issuers,
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        scopes,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Discovery endpoints are fetched cross-origin by browser-based MCP
		// clients; allow that without credentials.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metadata); err != nil {
			logger.Errorf("Failed to encode protected resource metadata: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	})
}
