// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/validation"
)

// Validator performs comprehensive validation of a loaded configuration.
// Every problem it finds is a configuration error: the process must not
// begin serving with any of them present.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole document and reports every problem at once.
// It assumes EnsureDefaults has run (the loader guarantees this).
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return delego.NewError(delego.KindConfiguration, "configuration is nil")
	}

	var problems []string
	problems = append(problems, v.validateMCP(cfg.MCP)...)
	problems = append(problems, v.validateAuth(cfg.Auth)...)
	problems = append(problems, v.validateDelegation(cfg)...)
	problems = append(problems, v.validateTelemetry(cfg)...)

	if len(problems) > 0 {
		return delego.NewError(delego.KindConfiguration,
			"\n  - "+strings.Join(problems, "\n  - "))
	}
	return nil
}

func (*Validator) validateMCP(mcp MCPConfig) []string {
	var problems []string

	if mcp.Name == "" {
		problems = append(problems, "mcp.name is required")
	}
	if mcp.Port < 1 || mcp.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mcp.port must be between 1 and 65535, got %d", mcp.Port))
	}
	if !strings.HasPrefix(mcp.EndpointPath, "/") {
		problems = append(problems, "mcp.endpointPath must start with '/'")
	}
	if mcp.ExternalURL != "" {
		if err := validation.ValidateResourceURI(mcp.ExternalURL); err != nil {
			problems = append(problems, fmt.Sprintf("mcp.externalUrl: %v", err))
		}
	}
	return problems
}

func (v *Validator) validateAuth(auth AuthConfig) []string {
	var problems []string

	if len(auth.TrustedIdPs) == 0 {
		problems = append(problems, "auth.trustedIDPs must not be empty")
		return problems
	}

	requestorSeen := false
	triples := make(map[string]int, len(auth.TrustedIdPs))
	for i, idp := range auth.TrustedIdPs {
		prefix := fmt.Sprintf("auth.trustedIDPs[%d]", i)
		problems = append(problems, v.validateIdP(prefix, idp)...)

		if idp.Name == delego.RequestorIdPName {
			requestorSeen = true
		}

		triple := idp.Name + "\x00" + idp.Issuer + "\x00" + idp.Audience
		if first, dup := triples[triple]; dup {
			problems = append(problems, fmt.Sprintf(
				"%s duplicates (name, issuer, audience) of auth.trustedIDPs[%d]", prefix, first))
		} else {
			triples[triple] = i
		}
	}

	if !requestorSeen {
		problems = append(problems, fmt.Sprintf(
			"auth.trustedIDPs must include at least one entry named %q", delego.RequestorIdPName))
	}

	if auth.Audit != nil {
		if auth.Audit.MaxEntries < 0 {
			problems = append(problems, "auth.audit.maxEntries must not be negative")
		}
		if auth.Audit.RetentionDays < 0 {
			problems = append(problems, "auth.audit.retentionDays must not be negative")
		}
	}
	return problems
}

func (*Validator) validateIdP(prefix string, idp IdPConfig) []string {
	var problems []string

	if err := validation.ValidateIdentifier(idp.Name); err != nil {
		problems = append(problems, fmt.Sprintf("%s.name: %v", prefix, err))
	}
	if err := validation.ValidateHTTPSURL(idp.Issuer); err != nil {
		problems = append(problems, fmt.Sprintf("%s.issuer: %v", prefix, err))
	}
	if idp.Audience == "" {
		problems = append(problems, prefix+".audience is required")
	}
	if idp.JWKSURI != "" {
		if err := validation.ValidateHTTPSURL(idp.JWKSURI); err != nil {
			problems = append(problems, fmt.Sprintf("%s.jwksUri: %v", prefix, err))
		}
	}

	if len(idp.Algorithms) == 0 {
		problems = append(problems, prefix+".algorithms must not be empty")
	}
	for _, alg := range idp.Algorithms {
		if err := validation.ValidateAlgorithm(alg); err != nil {
			problems = append(problems, fmt.Sprintf("%s.algorithms: %v", prefix, err))
		}
	}

	if idp.ClaimMappings.UserID == "" {
		problems = append(problems, prefix+".claimMappings.userId is required")
	}
	if idp.ClockTolerance < 0 {
		problems = append(problems, prefix+".clockTolerance must not be negative")
	}
	if idp.MaxTokenAge < 0 {
		problems = append(problems, prefix+".maxTokenAge must not be negative")
	}

	problems = append(problems, validateRoleMapping(prefix+".roleMappings", idp.RoleMappings)...)
	return problems
}

func validateRoleMapping(prefix string, mapping RoleMapping) []string {
	var problems []string

	declared := make(map[delego.Role]struct{}, len(delego.BuiltinRolePriority)+len(mapping.Custom))
	for _, role := range delego.BuiltinRolePriority {
		declared[role] = struct{}{}
	}

	for i, custom := range mapping.Custom {
		entry := fmt.Sprintf("%s.custom[%d]", prefix, i)
		if err := validation.ValidateIdentifier(string(custom.Role)); err != nil {
			problems = append(problems, fmt.Sprintf("%s.role: %v", entry, err))
			continue
		}
		if custom.Role == delego.RoleUnassigned {
			problems = append(problems, entry+".role: the unassigned role is reserved")
			continue
		}
		if _, dup := declared[custom.Role]; dup {
			problems = append(problems, fmt.Sprintf("%s.role %q is already declared", entry, custom.Role))
			continue
		}
		declared[custom.Role] = struct{}{}
		if len(custom.Matches) == 0 {
			problems = append(problems, entry+".matches must not be empty")
		}
	}

	if mapping.DefaultRole != "" {
		if mapping.DefaultRole == delego.RoleUnassigned {
			problems = append(problems, prefix+".defaultRole must not be the unassigned sentinel")
		} else if _, ok := declared[mapping.DefaultRole]; !ok {
			problems = append(problems, fmt.Sprintf(
				"%s.defaultRole %q is not a declared role", prefix, mapping.DefaultRole))
		}
	}
	return problems
}

func (v *Validator) validateDelegation(cfg *Config) []string {
	var problems []string

	idpNames := make(map[string]struct{}, len(cfg.Auth.TrustedIdPs))
	for _, idp := range cfg.Auth.TrustedIdPs {
		idpNames[idp.Name] = struct{}{}
	}

	moduleNames := make(map[string]int, len(cfg.Delegation.Modules))
	for i, module := range cfg.Delegation.Modules {
		prefix := fmt.Sprintf("delegation.modules[%d]", i)

		if err := validation.ValidateIdentifier(module.Name); err != nil {
			problems = append(problems, fmt.Sprintf("%s.name: %v", prefix, err))
		}
		if first, dup := moduleNames[module.Name]; dup {
			problems = append(problems, fmt.Sprintf(
				"%s.name %q duplicates delegation.modules[%d]", prefix, module.Name, first))
		} else {
			moduleNames[module.Name] = i
		}
		if module.Type == "" {
			problems = append(problems, prefix+".type is required")
		}

		if module.TokenExchange != nil {
			problems = append(problems, validateTokenExchange(prefix+".tokenExchange", module.TokenExchange, idpNames)...)
		}
	}

	cache := cfg.Delegation.TokenCache
	if cache.TTL <= 0 {
		problems = append(problems, "delegation.tokenCache.ttl must be positive")
	}
	if cache.MaxEntriesPerSession <= 0 {
		problems = append(problems, "delegation.tokenCache.maxEntriesPerSession must be positive")
	}
	if cache.MaxTotalEntries <= 0 {
		problems = append(problems, "delegation.tokenCache.maxTotalEntries must be positive")
	}
	return problems
}

func validateTokenExchange(prefix string, te *TokenExchangeConfig, idpNames map[string]struct{}) []string {
	var problems []string

	if err := validation.ValidateHTTPSURL(te.TokenEndpoint); err != nil {
		problems = append(problems, fmt.Sprintf("%s.tokenEndpoint: %v", prefix, err))
	}
	if te.ClientID == "" {
		problems = append(problems, prefix+".clientId is required")
	}
	if te.ClientSecret == "" {
		problems = append(problems, prefix+".clientSecret is required")
	}
	if te.Audience == "" {
		problems = append(problems, prefix+".audience is required")
	}
	if te.Timeout < 0 {
		problems = append(problems, prefix+".timeout must not be negative")
	}
	if te.IdPName != "" {
		if _, ok := idpNames[te.IdPName]; !ok {
			problems = append(problems, fmt.Sprintf(
				"%s.idpName %q does not match any trusted IdP", prefix, te.IdPName))
		}
	}
	if te.Cache != nil && te.Cache.TTL < 0 {
		problems = append(problems, prefix+".cache.ttl must not be negative")
	}
	return problems
}

func (*Validator) validateTelemetry(cfg *Config) []string {
	var problems []string
	if cfg.Telemetry != nil && cfg.Telemetry.Path != "" && !strings.HasPrefix(cfg.Telemetry.Path, "/") {
		problems = append(problems, "telemetry.path must start with '/'")
	}
	return problems
}
