// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"sync"

	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/tokenexchange"
)

// EchoModuleType is the implementation type of the in-tree echo module.
const EchoModuleType = "echo"

// EchoModule is a minimal delegation module: it returns the action and
// params it was called with. It exists to prove the module contract in
// examples and tests without a real backend, and exercises token exchange
// when its instance is configured for it.
type EchoModule struct {
	name string

	mu           sync.Mutex
	initialized  bool
	destroyed    bool
	requiredRole string
}

var _ Module = (*EchoModule)(nil)

// NewEchoModule builds an echo module instance with the given name.
func NewEchoModule(name string) *EchoModule {
	return &EchoModule{name: name}
}

// Name implements Module.
func (m *EchoModule) Name() string { return m.name }

// Type implements Module.
func (*EchoModule) Type() string { return EchoModuleType }

// Initialize implements Module. Settings: "requiredRole" (optional)
// restricts access to sessions holding that framework or custom role.
func (m *EchoModule) Initialize(_ context.Context, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role, ok := settings["requiredRole"].(string); ok {
		m.requiredRole = role
	}
	m.initialized = true
	m.destroyed = false
	return nil
}

// ValidateAccess implements Module. Any assigned role passes unless the
// instance requires a specific one.
func (m *EchoModule) ValidateAccess(session delego.UserSession) bool {
	if session.Role == delego.RoleUnassigned {
		return false
	}
	m.mu.Lock()
	required := m.requiredRole
	m.mu.Unlock()
	if required == "" {
		return true
	}
	return session.HasRole(delego.Role(required)) || session.HasCustomRole(required)
}

// Delegate implements Module.
func (m *EchoModule) Delegate(ctx context.Context, req Request) (*Result, error) {
	data := map[string]any{
		"action": req.Action,
		"params": req.Params,
	}

	caps := req.Capabilities
	if caps.ExchangeConfig != nil && caps.Exchanger != nil {
		_, err := caps.Exchanger.Exchange(ctx, tokenexchange.Request{
			SubjectToken: req.Session.SubjectToken(),
			SessionID:    caps.SessionID,
		}, *caps.ExchangeConfig)
		if err != nil {
			return nil, err
		}
		// The token itself stays out of the response; the point is proving
		// the exchange path works end to end.
		data["tokenAcquired"] = true
	}

	return &Result{Success: true, Data: data}, nil
}

// HealthCheck implements Module.
func (m *EchoModule) HealthCheck(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && !m.destroyed
}

// Destroy implements Module.
func (m *EchoModule) Destroy(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	return nil
}
