// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/telemetry"
)

// Duration is a wrapper around time.Duration that marshals/unmarshals as a
// duration string ("30s", "1m") instead of a nanosecond integer.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(dur)
	return nil
}

// Config is the engine configuration document.
type Config struct {
	// MCP configures the hosting MCP transport.
	MCP MCPConfig `json:"mcp" yaml:"mcp"`

	// Auth configures incoming-token validation and the audit sink.
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Delegation configures the delegation modules and the token cache.
	Delegation DelegationConfig `json:"delegation" yaml:"delegation"`

	// Telemetry configures the Prometheus metrics endpoint.
	// +optional
	Telemetry *telemetry.Config `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`

	// Network configures outbound HTTP clients (discovery, JWKS, exchange).
	// +optional
	Network NetworkConfig `json:"network,omitempty" yaml:"network,omitempty"`
}

// NetworkConfig configures the outbound HTTP clients used to reach IdPs.
type NetworkConfig struct {
	// CABundle is the path of a PEM bundle trusted for outbound TLS in
	// addition to the system roots being replaced by it.
	// +optional
	CABundle string `json:"caBundle,omitempty" yaml:"caBundle,omitempty"`
	// AllowPrivateIPs permits outbound connections to private and loopback
	// addresses, and relaxes the HTTPS requirement. Meant for development
	// against local IdPs.
	// +optional
	AllowPrivateIPs bool `json:"allowPrivateIPs,omitempty" yaml:"allowPrivateIPs,omitempty"`
}

// MCPConfig configures the hosting MCP server.
type MCPConfig struct {
	// Name is the server name advertised during MCP initialization.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Version is the server version advertised during MCP initialization.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Host is the listen address.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	// Port is the listen port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// EndpointPath is the path the streamable MCP endpoint is mounted at.
	EndpointPath string `json:"endpointPath,omitempty" yaml:"endpointPath,omitempty"`
	// ExternalURL is the base URL clients reach the server at when it sits
	// behind a reverse proxy or TLS terminator. When set, the advertised
	// RFC 9728 resource identifier is derived from it instead of the listen
	// address.
	// +optional
	ExternalURL string `json:"externalUrl,omitempty" yaml:"externalUrl,omitempty"`
}

// ResourceURL returns the canonical resource identifier advertised in the
// protected-resource metadata: the external URL joined with the endpoint
// path when configured, otherwise the listen address over plain http.
func (m MCPConfig) ResourceURL() string {
	if m.ExternalURL != "" {
		return strings.TrimSuffix(m.ExternalURL, "/") + m.EndpointPath
	}
	return fmt.Sprintf("http://%s:%d%s", m.Host, m.Port, m.EndpointPath)
}

// AuthConfig is the auth section of the document.
type AuthConfig struct {
	// TrustedIdPs is the ordered list of IdP configurations. At least one
	// must carry the reserved requestor-jwt name.
	TrustedIdPs []IdPConfig `json:"trustedIDPs" yaml:"trustedIDPs"`

	// Audit configures the audit sink. When the section is absent the sink
	// defaults to enabled with the standard capacity.
	// +optional
	Audit *audit.Config `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// IdPConfig describes one trusted identity provider. Multiple entries may
// share a Name (a logical identity context); they are disambiguated by the
// (issuer, audience) pair, and the (name, issuer, audience) triple is unique.
type IdPConfig struct {
	// Name is the logical identity-context name the transport selects by.
	Name string `json:"name" yaml:"name"`
	// Issuer is the expected iss claim, also the OIDC discovery base when
	// JWKSURI is omitted.
	Issuer string `json:"issuer" yaml:"issuer"`
	// Audience is the expected aud claim entry.
	Audience string `json:"audience" yaml:"audience"`
	// JWKSURI is the key-set endpoint. When empty it is discovered from the
	// issuer's OIDC metadata at initialization.
	// +optional
	JWKSURI string `json:"jwksUri,omitempty" yaml:"jwksUri,omitempty"`
	// Algorithms is the allowed signing algorithm set, a subset of
	// {RS256, ES256}.
	Algorithms []string `json:"algorithms" yaml:"algorithms"`
	// ClaimMappings maps framework session fields to JWT claim paths.
	ClaimMappings ClaimMappings `json:"claimMappings" yaml:"claimMappings"`
	// RoleMappings maps raw token roles into framework roles.
	RoleMappings RoleMapping `json:"roleMappings" yaml:"roleMappings"`
	// ClockTolerance is the leeway applied to exp/nbf/iat checks.
	// +optional
	ClockTolerance Duration `json:"clockTolerance,omitempty" yaml:"clockTolerance,omitempty"`
	// MaxTokenAge rejects tokens whose iat is older than this. Zero disables
	// the check.
	// +optional
	MaxTokenAge Duration `json:"maxTokenAge,omitempty" yaml:"maxTokenAge,omitempty"`
	// RequireNbf rejects tokens that omit the nbf claim.
	// +optional
	RequireNbf bool `json:"requireNbf,omitempty" yaml:"requireNbf,omitempty"`
}

// ClaimMappings maps framework session fields to JWT claim paths. Paths are
// dotted for nested claims, e.g. "realm_access.roles".
type ClaimMappings struct {
	// UserID is the claim path of the stable subject identifier.
	UserID string `json:"userId,omitempty" yaml:"userId,omitempty"`
	// Username is the claim path of the display name.
	// +optional
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	// LegacyUsername is the claim path of the pre-migration account name.
	// +optional
	LegacyUsername string `json:"legacyUsername,omitempty" yaml:"legacyUsername,omitempty"`
	// Email is the claim path of the email address.
	// +optional
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	// Roles is the claim path of the raw roles list.
	// +optional
	Roles string `json:"roles,omitempty" yaml:"roles,omitempty"`
	// Scopes is the claim path of the scopes claim (string or array).
	// +optional
	Scopes string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// RoleMapping maps raw token roles into framework roles for one IdP. The
// built-in roles are matched in fixed priority order (admin, user, guest),
// then Custom entries in declaration order.
type RoleMapping struct {
	// Admin lists raw roles mapping to the admin framework role.
	// +optional
	Admin []string `json:"admin,omitempty" yaml:"admin,omitempty"`
	// User lists raw roles mapping to the user framework role.
	// +optional
	User []string `json:"user,omitempty" yaml:"user,omitempty"`
	// Guest lists raw roles mapping to the guest framework role.
	// +optional
	Guest []string `json:"guest,omitempty" yaml:"guest,omitempty"`
	// Custom declares additional framework roles in priority order after the
	// built-ins. A list (not a map) so priority survives serialization.
	// +optional
	Custom []CustomRoleMapping `json:"custom,omitempty" yaml:"custom,omitempty"`
	// DefaultRole is assigned when no mapping matches and
	// RejectUnmappedRoles is false.
	// +optional
	DefaultRole delego.Role `json:"defaultRole,omitempty" yaml:"defaultRole,omitempty"`
	// RejectUnmappedRoles rejects tokens whose raw roles all fall outside
	// the mapping instead of falling back to DefaultRole.
	// +optional
	RejectUnmappedRoles bool `json:"rejectUnmappedRoles,omitempty" yaml:"rejectUnmappedRoles,omitempty"`
}

// CustomRoleMapping declares one custom framework role and the raw roles
// that map into it.
type CustomRoleMapping struct {
	// Role is the custom framework role name.
	Role delego.Role `json:"role" yaml:"role"`
	// Matches lists the raw roles mapping into Role.
	Matches []string `json:"matches" yaml:"matches"`
}

// DelegationConfig is the delegation section of the document.
type DelegationConfig struct {
	// Modules is the ordered list of delegation module instances. Names are
	// unique; registration (and reverse teardown) follows list order.
	// +optional
	Modules []ModuleConfig `json:"modules,omitempty" yaml:"modules,omitempty"`

	// TokenCache configures the shared encrypted token cache.
	// +optional
	TokenCache TokenCacheConfig `json:"tokenCache,omitempty" yaml:"tokenCache,omitempty"`
}

// ModuleConfig describes one delegation module instance.
type ModuleConfig struct {
	// Name is the unique instance name tools dispatch to.
	Name string `json:"name" yaml:"name"`
	// Type selects the module implementation.
	Type string `json:"type" yaml:"type"`
	// Settings carries the free-form fields the module's Initialize accepts.
	// +optional
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
	// TokenExchange configures downstream credential acquisition for this
	// module. Absent means the module works with the subject token only.
	// +optional
	TokenExchange *TokenExchangeConfig `json:"tokenExchange,omitempty" yaml:"tokenExchange,omitempty"`
}

// TokenExchangeConfig configures one module's RFC 8693 exchange.
type TokenExchangeConfig struct {
	// IdPName names the trusted IdP this exchange is performed against.
	// +optional
	IdPName string `json:"idpName,omitempty" yaml:"idpName,omitempty"`
	// TokenEndpoint is the IdP's token endpoint URL.
	TokenEndpoint string `json:"tokenEndpoint" yaml:"tokenEndpoint"`
	// ClientID identifies the engine to the IdP.
	ClientID string `json:"clientId" yaml:"clientId"`
	// ClientSecret authenticates the engine to the IdP. Usually supplied as
	// a {"$secret": "NAME"} descriptor.
	ClientSecret string `json:"clientSecret" yaml:"clientSecret"`
	// Audience is the default downstream audience requested.
	Audience string `json:"audience" yaml:"audience"`
	// Scope is the default space-separated scope requested.
	// +optional
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
	// Timeout bounds each exchange HTTP request.
	// +optional
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Cache overrides caching behavior for this module's exchanged tokens.
	// +optional
	Cache *ExchangeCacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// ExchangeCacheConfig is a per-module override of exchanged-token caching.
type ExchangeCacheConfig struct {
	// Disabled turns caching off for this module's exchanges.
	// +optional
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	// TTL caps cached-token lifetime for this module, overriding the global
	// cache TTL when shorter.
	// +optional
	TTL Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// TokenCacheConfig configures the shared encrypted token cache.
type TokenCacheConfig struct {
	// TTL caps cached-token lifetime. The effective lifetime of an entry is
	// the lesser of this and the token's own expiry.
	// +optional
	TTL Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// MaxEntriesPerSession caps entries per session.
	// +optional
	MaxEntriesPerSession int `json:"maxEntriesPerSession,omitempty" yaml:"maxEntriesPerSession,omitempty"`
	// MaxTotalEntries caps the cache globally; exceeding it evicts the least
	// recently used entry across sessions.
	// +optional
	MaxTotalEntries int `json:"maxTotalEntries,omitempty" yaml:"maxTotalEntries,omitempty"`
}

// IdPsByName returns the trusted IdP configurations registered under the
// given logical name, in document order.
func (c *Config) IdPsByName(name string) []IdPConfig {
	var matched []IdPConfig
	for _, idp := range c.Auth.TrustedIdPs {
		if idp.Name == name {
			matched = append(matched, idp)
		}
	}
	return matched
}

// Issuers returns the distinct issuer URLs of all trusted IdPs, in document
// order. The RFC 9728 metadata handler advertises these.
func (c *Config) Issuers() []string {
	seen := make(map[string]struct{}, len(c.Auth.TrustedIdPs))
	var issuers []string
	for _, idp := range c.Auth.TrustedIdPs {
		if _, ok := seen[idp.Issuer]; ok {
			continue
		}
		seen[idp.Issuer] = struct{}{}
		issuers = append(issuers, idp.Issuer)
	}
	return issuers
}

// DeclaredRoles returns the framework roles this mapping can produce, in
// priority order: built-ins first, then customs in declaration order.
func (m RoleMapping) DeclaredRoles() []delego.Role {
	roles := make([]delego.Role, 0, len(delego.BuiltinRolePriority)+len(m.Custom))
	roles = append(roles, delego.BuiltinRolePriority...)
	for _, custom := range m.Custom {
		roles = append(roles, custom.Role)
	}
	return roles
}

// MatchesFor returns the raw-role list mapped to the given framework role.
func (m RoleMapping) MatchesFor(role delego.Role) []string {
	switch role {
	case delego.RoleAdmin:
		return m.Admin
	case delego.RoleUser:
		return m.User
	case delego.RoleGuest:
		return m.Guest
	default:
		for _, custom := range m.Custom {
			if custom.Role == role {
				return custom.Matches
			}
		}
		return nil
	}
}
