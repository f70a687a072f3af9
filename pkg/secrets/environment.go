// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/delego/pkg/env"
)

// EnvironmentProvider resolves secrets from environment variables prefixed
// with EnvVarPrefix. It is read-only.
type EnvironmentProvider struct {
	prefix string
	env    env.Reader
}

var _ Provider = (*EnvironmentProvider)(nil)

// NewEnvironmentProvider creates a read-only provider backed by the process
// environment.
func NewEnvironmentProvider() *EnvironmentProvider {
	return NewEnvironmentProviderWithEnv(&env.OSReader{})
}

// NewEnvironmentProviderWithEnv creates an environment provider reading
// through the given env.Reader.
func NewEnvironmentProviderWithEnv(reader env.Reader) *EnvironmentProvider {
	return &EnvironmentProvider{
		prefix: EnvVarPrefix,
		env:    reader,
	}
}

// GetSecret reads the prefixed environment variable for the named secret.
// An unset or empty variable is treated as not found.
func (e *EnvironmentProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	value := e.env.Getenv(e.prefix + name)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// SetSecret is not supported; the process environment is read-only.
func (*EnvironmentProvider) SetSecret(_ context.Context, name, _ string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}
	return errors.New("environment provider is read-only")
}

// DeleteSecret is not supported; the process environment is read-only.
func (*EnvironmentProvider) DeleteSecret(_ context.Context, name string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}
	return errors.New("environment provider is read-only")
}

// ListSecrets is not supported: enumerating the environment would expose
// unrelated variables.
func (*EnvironmentProvider) ListSecrets(_ context.Context) ([]string, error) {
	return nil, errors.New("environment provider does not support listing secrets for security reasons")
}

// Cleanup is a no-op for the environment provider.
func (*EnvironmentProvider) Cleanup() error {
	return nil
}
