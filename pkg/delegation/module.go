// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package delegation defines the delegation module contract and the registry
// that dispatches tool calls to modules.
package delegation

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/tokenexchange"
)

// TokenExchanger is the token-exchange surface handed to modules through the
// capability handle.
//
//go:generate mockgen -destination=mocks/mock_module.go -package=mocks -source=module.go
type TokenExchanger interface {
	// Exchange returns an access token for the requested audience.
	Exchange(ctx context.Context, req tokenexchange.Request, cfg config.TokenExchangeConfig) (string, error)

	// TokenSource returns an oauth2.TokenSource for downstream SDK clients.
	TokenSource(ctx context.Context, req tokenexchange.Request, cfg config.TokenExchangeConfig) oauth2.TokenSource
}

// Capabilities is the per-delegation handle the registry hands to a module.
// It scopes downstream credential acquisition and auditing to the calling
// session; modules must not retain it beyond the Delegate call.
type Capabilities struct {
	// SessionID identifies the calling session.
	SessionID string
	// Exchanger performs RFC 8693 exchanges. Nil when the engine runs
	// without token exchange.
	Exchanger TokenExchanger
	// ExchangeConfig is this module instance's exchange configuration, nil
	// when the module works with the subject token only.
	ExchangeConfig *config.TokenExchangeConfig
	// Audit is the sink for module-level audit entries.
	Audit audit.Service
}

// Request carries one delegated action into a module.
type Request struct {
	// Session is the authenticated caller.
	Session delego.UserSession
	// Action names the operation within the module.
	Action string
	// Params are the action parameters from the tool call.
	Params map[string]any
	// Capabilities is the registry-built handle for this call.
	Capabilities Capabilities
}

// Result is a module's answer to one delegated action.
type Result struct {
	// Success reports whether the action succeeded.
	Success bool
	// Data is the action's payload on success.
	Data map[string]any
	// Error is a sanitized description on failure. Internal diagnostics
	// belong in the audit trail, not here.
	Error string
	// AuditTrail is the module's terminal audit entry for this delegation.
	// When the module leaves it zero, the registry appends a default one.
	AuditTrail audit.Entry
}

// Module is one delegation backend. Instances are registered before serving
// starts and must be safe for concurrent Delegate calls.
type Module interface {
	// Name returns the unique instance name tools dispatch to.
	Name() string

	// Type returns the implementation type, informational only.
	Type() string

	// Initialize prepares the instance from its free-form settings. It must
	// be idempotent.
	Initialize(ctx context.Context, settings map[string]any) error

	// Delegate performs one action on behalf of the request's session.
	Delegate(ctx context.Context, req Request) (*Result, error)

	// ValidateAccess reports whether the session may use this module at
	// all. The registry short-circuits on false, and the tool surface uses
	// the same predicate to hide the module's tools.
	ValidateAccess(session delego.UserSession) bool

	// HealthCheck reports liveness of the module's backend.
	HealthCheck(ctx context.Context) bool

	// Destroy releases the module's resources. It must be idempotent.
	Destroy(ctx context.Context) error
}
