// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"

	"github.com/stacklok/delego/pkg/delegation"
	"github.com/stacklok/delego/pkg/delego"
)

// HealthCheckToolName is the name of the built-in liveness tool.
const HealthCheckToolName = "health-check"

// HealthCheckTool builds the built-in tool reporting per-module liveness.
// Any session with an assigned role may call it.
func HealthCheckTool(registry *delegation.Registry) Descriptor {
	return Descriptor{
		Name:        HealthCheckToolName,
		Description: "Report the liveness of every delegation module.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		CanAccess: func(session delego.UserSession) bool {
			return session.Role != delego.RoleUnassigned
		},
		Handler: func(ctx context.Context, _ delego.UserSession, _ map[string]any) Envelope {
			health := registry.HealthCheck(ctx)
			modules := make(map[string]any, len(health))
			for name, healthy := range health {
				modules[name] = healthy
			}
			return Success(map[string]any{"modules": modules})
		},
	}
}
