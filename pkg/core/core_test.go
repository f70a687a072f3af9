// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package core_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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
	"github.com/stacklok/delego/pkg/tokencache"
	"github.com/stacklok/delego/pkg/tools"
)

const (
	testIssuer   = "https://idp.example"
	testAudience = "mcp"
	testKeyID    = "core-key-1"
)

// coreFixture bundles a signing key, a JWKS test server, and a base
// configuration the tests mutate.
type coreFixture struct {
	key *rsa.PrivateKey
	cfg *config.Config
}

func newCoreFixture(t *testing.T) *coreFixture {
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

	cfg := &config.Config{
		Auth: config.AuthConfig{
			TrustedIdPs: []config.IdPConfig{{
				Name:       delego.RequestorIdPName,
				Issuer:     testIssuer,
				Audience:   testAudience,
				JWKSURI:    srv.URL,
				Algorithms: []string{"RS256"},
				ClaimMappings: config.ClaimMappings{
					UserID: "sub",
					Roles:  "realm_access.roles",
					Scopes: "scope",
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

	return &coreFixture{key: private, cfg: cfg}
}

func (f *coreFixture) signToken(t *testing.T, claims jwt.MapClaims) string {
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

func TestNewBuildsFullGraph(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	c, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	assert.NotNil(t, c.Audit)
	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.TokenCache)
	assert.NotNil(t, c.Exchanger)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Tools)
	assert.Nil(t, c.Metrics, "telemetry is off by default")

	assert.Equal(t, []string{"echo-main"}, c.Registry.Names())
}

func TestNewUnknownModuleType(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	fixture.cfg.Delegation.Modules = []config.ModuleConfig{{Name: "billing", Type: "warp-drive"}}

	_, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.Error(t, err)
	assert.True(t, delego.IsKind(err, delego.KindConfiguration))
	assert.Contains(t, err.Error(), "warp-drive")
}

func TestNewDuplicateModuleName(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	fixture.cfg.Delegation.Modules = []config.ModuleConfig{
		{Name: "echo-main", Type: delegation.EchoModuleType},
		{Name: "echo-main", Type: delegation.EchoModuleType},
	}

	_, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.Error(t, err)
	assert.True(t, delego.IsKind(err, delego.KindConfiguration))
}

func TestInitializeAndDispatchEndToEnd(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	c, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	require.NoError(t, c.Initialize(t.Context()))

	token := fixture.signToken(t, jwt.MapClaims{
		"realm_access": map[string]any{"roles": []any{"admin"}},
	})
	result := c.Auth.Authenticate(t.Context(), token, "")
	require.True(t, result.Authenticated())

	// Both the module tool and the built-in health check are visible.
	var names []string
	for _, desc := range c.Tools.ListTools(result.Session) {
		names = append(names, desc.Name)
	}
	assert.Equal(t, []string{"echo-main", tools.HealthCheckToolName}, names)

	env := c.Tools.InvokeTool(t.Context(), result.Session, "echo-main", map[string]any{
		"action": "ping",
		"params": map[string]any{"n": float64(1)},
	})
	require.Equal(t, tools.StatusSuccess, env.Status)
	assert.Equal(t, "ping", env.Data["action"])

	env = c.Tools.InvokeTool(t.Context(), result.Session, tools.HealthCheckToolName, nil)
	require.Equal(t, tools.StatusSuccess, env.Status)
	modules, ok := env.Data["modules"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, modules["echo-main"])
}

// failingModule fails Initialize to exercise the fatal startup path.
type failingModule struct {
	*delegation.EchoModule
}

func (*failingModule) Initialize(context.Context, map[string]any) error {
	return errors.New("backend unreachable")
}

func TestInitializeModuleFailureIsFatal(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	fixture.cfg.Delegation.Modules = []config.ModuleConfig{{Name: "flaky", Type: "flaky"}}

	c, err := core.New(fixture.cfg,
		core.WithOutboundHTTPClient(http.DefaultClient),
		core.WithModuleFactory("flaky", func(cfg config.ModuleConfig) (delegation.Module, error) {
			return &failingModule{EchoModule: delegation.NewEchoModule(cfg.Name)}, nil
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	err = c.Initialize(t.Context())
	require.Error(t, err)
	assert.True(t, delego.IsKind(err, delego.KindConfiguration))
	assert.Contains(t, err.Error(), `initializing module "flaky"`)
}

func TestDestroyIsIdempotentAndClosesCache(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	c, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	require.NoError(t, c.Initialize(t.Context()))

	require.NoError(t, c.Destroy(t.Context()))
	require.NoError(t, c.Destroy(t.Context()))

	key := tokencache.NewKey("s-1", "aud", []string{"read"})
	err = c.TokenCache.Put(key, "subject", tokencache.Token{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Minute),
	})
	assert.ErrorIs(t, err, tokencache.ErrClosed)
}

func TestRejectedTokenYieldsPowerlessSession(t *testing.T) {
	t.Parallel()

	fixture := newCoreFixture(t)
	fixture.cfg.Auth.TrustedIdPs[0].RoleMappings.DefaultRole = ""
	fixture.cfg.Auth.TrustedIdPs[0].RoleMappings.RejectUnmappedRoles = true

	c, err := core.New(fixture.cfg, core.WithOutboundHTTPClient(http.DefaultClient))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })
	require.NoError(t, c.Initialize(t.Context()))

	token := fixture.signToken(t, jwt.MapClaims{
		"realm_access": map[string]any{"roles": []any{"intern"}},
	})
	result := c.Auth.Authenticate(t.Context(), token, "")
	require.Equal(t, auth.StatusRejected, result.Status)

	// A powerless session sees no tools at all.
	assert.Empty(t, c.Tools.ListTools(result.Session))
}
