// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"

	"github.com/stacklok/delego/pkg/delegation"
	"github.com/stacklok/delego/pkg/delego"
)

// delegateSchema is the input schema shared by all module tools: an action
// name plus a free-form params object the module interprets.
func delegateSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The action to perform within the module.",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Action parameters, interpreted by the module.",
			},
		},
		"required": []string{"action"},
	}
}

// ModuleTool builds the descriptor exposing one delegation module as a
// tool. Visibility follows the module's own ValidateAccess, so a session
// that may not use the module never sees its tool.
func ModuleTool(registry *delegation.Registry, name string) (Descriptor, error) {
	module, ok := registry.Module(name)
	if !ok {
		return Descriptor{}, delego.Errorf(delego.KindConfiguration, "no module named %q", name)
	}

	return Descriptor{
		Name:        name,
		Description: fmt.Sprintf("Delegate actions to the %s module (type %s).", name, module.Type()),
		Schema:      delegateSchema(),
		CanAccess:   module.ValidateAccess,
		Handler: func(ctx context.Context, session delego.UserSession, args map[string]any) Envelope {
			action, ok := args["action"].(string)
			if !ok || action == "" {
				return Failure(CodeInvalidArguments)
			}
			params, _ := args["params"].(map[string]any)

			result, err := registry.Delegate(ctx, name, session, action, params)
			if err != nil {
				return Failure(codeForError(err))
			}
			if !result.Success {
				env := Failure(CodeModuleFailure)
				if result.Error != "" {
					env.Message = result.Error
				}
				return env
			}
			return Success(result.Data)
		},
	}, nil
}

// ModuleTools builds descriptors for every registered module, in
// registration order.
func ModuleTools(registry *delegation.Registry) ([]Descriptor, error) {
	names := registry.Names()
	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		d, err := ModuleTool(registry, name)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
