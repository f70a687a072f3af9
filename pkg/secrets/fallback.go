// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"

	"github.com/stacklok/delego/pkg/env"
	"github.com/stacklok/delego/pkg/logger"
)

// FallbackProvider wraps a primary provider with environment variable
// fallback: primary, then EnvVarPrefix-prefixed variable, then the bare
// variable name. Writes always go to the primary.
type FallbackProvider struct {
	primary     Provider
	envProvider Provider
	env         env.Reader
}

var _ Provider = (*FallbackProvider)(nil)

// NewFallbackProvider creates a new provider with environment variable fallback.
func NewFallbackProvider(primary Provider) *FallbackProvider {
	return NewFallbackProviderWithEnv(primary, &env.OSReader{})
}

// NewFallbackProviderWithEnv creates a fallback provider reading the
// environment through the given env.Reader.
func NewFallbackProviderWithEnv(primary Provider, reader env.Reader) *FallbackProvider {
	return &FallbackProvider{
		primary:     primary,
		envProvider: NewEnvironmentProviderWithEnv(reader),
		env:         reader,
	}
}

// GetSecret attempts to get a secret from the primary provider, falling back
// to environment variables if not found.
func (f *FallbackProvider) GetSecret(ctx context.Context, name string) (string, error) {
	value, err := f.primary.GetSecret(ctx, name)
	if err == nil {
		return value, nil
	}

	if !IsNotFoundError(err) {
		return "", err
	}

	// Try the prefixed environment variable first.
	envValue, envErr := f.envProvider.GetSecret(ctx, name)
	if envErr == nil {
		logger.Debugf("Secret '%s' retrieved from environment variable fallback with prefix", name)
		return envValue, nil
	}

	// Then the bare variable name, for container-injected secrets.
	if directValue := f.env.Getenv(name); directValue != "" {
		logger.Debugf("Secret '%s' retrieved from direct environment variable (no prefix)", name)
		return directValue, nil
	}

	// Return the original error if no fallback found.
	return "", err
}

// SetSecret always uses the primary provider (no env var writes).
func (f *FallbackProvider) SetSecret(ctx context.Context, name, value string) error {
	return f.primary.SetSecret(ctx, name, value)
}

// DeleteSecret always uses the primary provider (no env var deletes).
func (f *FallbackProvider) DeleteSecret(ctx context.Context, name string) error {
	return f.primary.DeleteSecret(ctx, name)
}

// ListSecrets only lists from the primary provider; environment variables are
// never enumerated.
func (f *FallbackProvider) ListSecrets(ctx context.Context) ([]string, error) {
	return f.primary.ListSecrets(ctx)
}

// Cleanup delegates to the primary provider.
func (f *FallbackProvider) Cleanup() error {
	return f.primary.Cleanup()
}
