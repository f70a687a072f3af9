// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/delego/pkg/auth"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/core"
	"github.com/stacklok/delego/pkg/delegation"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/server"
	"github.com/stacklok/delego/pkg/telemetry"
)

const (
	testIssuer   = "https://idp.example"
	testAudience = "mcp"
	testKeyID    = "server-key-1"
)

type serverFixture struct {
	key *rsa.PrivateKey
	cfg *config.Config
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	public, err := jwk.Import(private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, public.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, public.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	t.Cleanup(jwksSrv.Close)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			TrustedIdPs: []config.IdPConfig{{
				Name:       delego.RequestorIdPName,
				Issuer:     testIssuer,
				Audience:   testAudience,
				JWKSURI:    jwksSrv.URL,
				Algorithms: []string{"RS256"},
				ClaimMappings: config.ClaimMappings{
					UserID: "sub",
					Roles:  "realm_access.roles",
				},
				RoleMappings: config.RoleMapping{
					Admin:       []string{"admin"},
					DefaultRole: delego.RoleGuest,
				},
			}},
		},
		Delegation: config.DelegationConfig{
			Modules: []config.ModuleConfig{{
				Name: "echo-main",
				Type: delegation.EchoModuleType,
			}},
		},
	}
	cfg.EnsureDefaults()
	return &serverFixture{key: private, cfg: cfg}
}

func (f *serverFixture) signToken(t *testing.T, claims jwt.MapClaims) string {
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
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T, fixture *serverFixture) (*server.Server, *httptest.Server) {
	t.Helper()

	coreCtx, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	require.NoError(t, coreCtx.Initialize(t.Context()))
	t.Cleanup(func() { _ = coreCtx.Destroy(context.Background()) })

	srv := server.New(coreCtx)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, newServerFixture(t))

	resp, err := http.Get(httpSrv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestWellKnownMetadata(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, newServerFixture(t))

	resp, err := http.Get(httpSrv.URL + auth.WellKnownOAuthResourcePath)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metadata auth.ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, []string{testIssuer}, metadata.AuthorizationServers)
	assert.Contains(t, metadata.Resource, "/mcp")
}

func TestWellKnownMetadataAdvertisesExternalURL(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	fixture.cfg.MCP.ExternalURL = "https://mcp.example.com/"
	_, httpSrv := newTestServer(t, fixture)

	resp, err := http.Get(httpSrv.URL + auth.WellKnownOAuthResourcePath)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var metadata auth.ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, "https://mcp.example.com/mcp", metadata.Resource)
}

func TestMCPEndpointRequiresBearer(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	_, httpSrv := newTestServer(t, fixture)

	resp, err := http.Post(httpSrv.URL+"/mcp", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `Bearer realm="delego"`)
}

func TestMCPEndpointAcceptsValidToken(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	_, httpSrv := newTestServer(t, fixture)

	token := fixture.signToken(t, jwt.MapClaims{
		"realm_access": map[string]any{"roles": []any{"admin"}},
	})

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{` +
		`"protocolVersion":"2025-03-26","capabilities":{},` +
		`"clientInfo":{"name":"test-client","version":"0.0.1"}}}`

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		httpSrv.URL+"/mcp", strings.NewReader(initialize))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"serverInfo"`)
}

func TestMetricsEndpointWhenEnabled(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	fixture.cfg.Telemetry = &telemetry.Config{Enabled: true}
	_, httpSrv := newTestServer(t, fixture)

	resp, err := http.Get(httpSrv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointAbsentWhenDisabled(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestServer(t, newServerFixture(t))

	resp, err := http.Get(httpSrv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartServesAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	fixture.cfg.MCP.Port = 0

	coreCtx, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	require.NoError(t, coreCtx.Initialize(t.Context()))

	srv := server.New(coreCtx)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + srv.Address() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never shut down")
	}
}
