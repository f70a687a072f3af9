// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"dario.cat/mergo"

	"github.com/stacklok/delego/pkg/audit"
)

// Default constants for the engine configuration.
const (
	// defaultMCPName is the advertised MCP server name.
	defaultMCPName = "delego"

	// defaultMCPVersion is used when the build does not inject a version.
	defaultMCPVersion = "dev"

	// defaultMCPHost binds to loopback; operators expose the engine behind
	// their own ingress.
	defaultMCPHost = "127.0.0.1"

	// defaultMCPPort is the default listen port.
	defaultMCPPort = 4483

	// defaultEndpointPath is where the streamable MCP endpoint is mounted.
	defaultEndpointPath = "/mcp"

	// defaultClockTolerance is the leeway applied to exp/nbf/iat checks.
	defaultClockTolerance = 60 * time.Second

	// defaultUserIDClaim is the standard JWT subject claim.
	defaultUserIDClaim = "sub"

	// defaultScopesClaim is the standard OAuth scope claim.
	defaultScopesClaim = "scope"

	// defaultCacheTTL caps cached exchanged-token lifetime.
	defaultCacheTTL = 5 * time.Minute

	// defaultMaxEntriesPerSession caps cache entries per session.
	defaultMaxEntriesPerSession = 32

	// defaultMaxTotalEntries caps the cache globally.
	defaultMaxTotalEntries = 1024

	// defaultExchangeTimeout bounds each token-exchange HTTP request.
	defaultExchangeTimeout = 10 * time.Second
)

// DefaultMCPConfig returns a fully populated MCPConfig with default values.
func DefaultMCPConfig() MCPConfig {
	return MCPConfig{
		Name:         defaultMCPName,
		Version:      defaultMCPVersion,
		Host:         defaultMCPHost,
		Port:         defaultMCPPort,
		EndpointPath: defaultEndpointPath,
	}
}

// DefaultTokenCacheConfig returns a fully populated TokenCacheConfig with
// default values.
func DefaultTokenCacheConfig() TokenCacheConfig {
	return TokenCacheConfig{
		TTL:                  Duration(defaultCacheTTL),
		MaxEntriesPerSession: defaultMaxEntriesPerSession,
		MaxTotalEntries:      defaultMaxTotalEntries,
	}
}

// EnsureDefaults fills unset fields with defaults while preserving any
// user-provided values. The loader calls this after decoding; Validate
// assumes it has run.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}

	// Merge defaults into target, only filling zero values.
	_ = mergo.Merge(&c.MCP, DefaultMCPConfig())
	_ = mergo.Merge(&c.Delegation.TokenCache, DefaultTokenCacheConfig())

	// An absent audit section means enabled with standard capacity. A
	// present section is taken literally, including enabled: false.
	if c.Auth.Audit == nil {
		c.Auth.Audit = &audit.Config{
			Enabled:    true,
			MaxEntries: audit.DefaultMaxEntries,
		}
	}

	for i := range c.Auth.TrustedIdPs {
		idp := &c.Auth.TrustedIdPs[i]
		if idp.ClockTolerance == 0 {
			idp.ClockTolerance = Duration(defaultClockTolerance)
		}
		if idp.ClaimMappings.UserID == "" {
			idp.ClaimMappings.UserID = defaultUserIDClaim
		}
		if idp.ClaimMappings.Scopes == "" {
			idp.ClaimMappings.Scopes = defaultScopesClaim
		}
	}

	for i := range c.Delegation.Modules {
		module := &c.Delegation.Modules[i]
		if module.TokenExchange != nil && module.TokenExchange.Timeout == 0 {
			module.TokenExchange.Timeout = Duration(defaultExchangeTimeout)
		}
	}
}
