// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"

	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/secrets"
)

// secretRefKey marks a map node as a secret descriptor:
// {"$secret": "NAME"}.
const secretRefKey = "$secret"

// SecretResolver substitutes secret descriptors in a decoded document tree.
// Resolution failure is fatal: a config referencing a secret that cannot be
// resolved must not produce a running engine. Secret names are opaque and
// resolved values never appear in errors or logs.
type SecretResolver struct {
	provider secrets.Provider
}

// NewSecretResolver builds a resolver over the given provider chain.
func NewSecretResolver(provider secrets.Provider) *SecretResolver {
	return &SecretResolver{provider: provider}
}

// Resolve walks the tree and replaces every {"$secret": "NAME"} map with the
// resolved string value. Non-descriptor nodes pass through unchanged.
func (r *SecretResolver) Resolve(ctx context.Context, node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		return r.resolveMap(ctx, v)
	case []any:
		resolved := make([]any, len(v))
		for i, child := range v {
			value, err := r.Resolve(ctx, child)
			if err != nil {
				return nil, err
			}
			resolved[i] = value
		}
		return resolved, nil
	default:
		return node, nil
	}
}

func (r *SecretResolver) resolveMap(ctx context.Context, m map[string]any) (any, error) {
	if raw, ok := m[secretRefKey]; ok {
		name, isString := raw.(string)
		if !isString || name == "" || len(m) != 1 {
			return nil, delego.NewError(delego.KindConfiguration,
				"malformed secret descriptor: want exactly {\"$secret\": \"NAME\"}")
		}
		value, err := r.provider.GetSecret(ctx, name)
		if err != nil {
			return nil, delego.WrapError(delego.KindConfiguration,
				fmt.Sprintf("resolving secret %q", name), err)
		}
		return value, nil
	}

	resolved := make(map[string]any, len(m))
	for key, child := range m {
		value, err := r.Resolve(ctx, child)
		if err != nil {
			return nil, err
		}
		resolved[key] = value
	}
	return resolved, nil
}
