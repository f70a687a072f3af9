// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets contains the secret resolution logic for the engine.
// Secret names are opaque handles; values never appear in logs or errors.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adrg/xdg"
)

// EnvVarPrefix is prepended to a secret name when resolving it from the
// environment.
const EnvVarPrefix = "DELEGO_SECRET_"

// ErrSecretNotFound is wrapped by providers when a named secret does not
// exist. The fallback chain advances past it; any other error aborts.
var ErrSecretNotFound = errors.New("secret not found")

// Provider describes a type which can resolve and manage named secrets.
//
//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=secrets.go Provider
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]string, error)
	Cleanup() error
}

// IsNotFoundError checks if an error indicates a secret was not found.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSecretNotFound) ||
		strings.Contains(err.Error(), "not found") ||
		strings.Contains(err.Error(), "does not exist")
}

// DefaultFilePath returns the default location of the JSON secrets file,
// under the XDG data directory.
func DefaultFilePath() (string, error) {
	path, err := xdg.DataFile("delego/secrets.json")
	if err != nil {
		return "", fmt.Errorf("unable to access secrets file path: %w", err)
	}
	return path, nil
}

// Default builds the standard resolution chain: the JSON file store wrapped
// with environment fallback. The filePath may be empty to use DefaultFilePath.
func Default(filePath string) (Provider, error) {
	if filePath == "" {
		var err error
		filePath, err = DefaultFilePath()
		if err != nil {
			return nil, err
		}
	}
	file, err := NewFileProvider(filePath)
	if err != nil {
		return nil, err
	}
	return NewFallbackProvider(file), nil
}
