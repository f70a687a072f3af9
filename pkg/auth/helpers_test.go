// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/delego/pkg/auth/jwks"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
)

const (
	testIssuer   = "https://idp.example"
	testAudience = "mcp"
	testKeyID    = "test-key-1"
)

// idpFixture bundles a signing key, a JWKS test server, and a matching IdP
// configuration.
type idpFixture struct {
	key     *rsa.PrivateKey
	keyID   string
	jwksURL string
}

func newIdPFixture(t *testing.T) *idpFixture {
	t.Helper()

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	public, err := jwk.Import(private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, public.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, public.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	t.Cleanup(srv.Close)

	return &idpFixture{key: private, keyID: testKeyID, jwksURL: srv.URL}
}

// idpConfig returns the standard requestor-jwt configuration pointing at the
// fixture's JWKS server.
func (f *idpFixture) idpConfig() config.IdPConfig {
	return config.IdPConfig{
		Name:       delego.RequestorIdPName,
		Issuer:     testIssuer,
		Audience:   testAudience,
		JWKSURI:    f.jwksURL,
		Algorithms: []string{"RS256"},
		ClaimMappings: config.ClaimMappings{
			UserID:   "sub",
			Username: "preferred_username",
			Roles:    "realm_access.roles",
			Scopes:   "scope",
		},
		RoleMappings: config.RoleMapping{
			Admin:       []string{"admin"},
			User:        []string{"user"},
			DefaultRole: delego.RoleGuest,
		},
		ClockTolerance: config.Duration(60 * time.Second),
	}
}

// signToken mints an RS256 token with the fixture's key and the given
// claims. Standard timing claims default to a valid window unless the
// caller set them.
func (f *idpFixture) signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	now := time.Now()
	defaults := jwt.MapClaims{
		"iss": testIssuer,
		"aud": []string{testAudience},
		"sub": "u-1",
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
	for k, v := range claims {
		defaults[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, defaults)
	token.Header["kid"] = f.keyID
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

// newTestValidator builds a Validator over the given configs with a fresh
// key-set cache.
func newTestValidator(configs ...config.IdPConfig) *Validator {
	return NewValidator(configs, jwks.New())
}
