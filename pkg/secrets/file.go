// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
)

// FileProvider stores secrets in an unencrypted JSON file with 0600
// permissions. It backs the {"$secret": "NAME"} config resolver and the
// `delego secret` CLI.
type FileProvider struct {
	filePath string
	secrets  map[string]string
	mu       sync.RWMutex // Protects concurrent access to secrets map
}

var _ Provider = (*FileProvider)(nil)

// fileStructure is the on-disk layout of the secrets file.
type fileStructure struct {
	Secrets map[string]string `json:"secrets"`
}

// NewFileProvider opens (creating if needed) the secrets file at filePath.
func NewFileProvider(filePath string) (*FileProvider, error) {
	filePath = path.Clean(filePath)
	// #nosec G304: the path comes from operator configuration.
	secretsFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	stat, err := secretsFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	secrets := make(map[string]string)
	if stat.Size() > 0 {
		var contents fileStructure
		if err := json.NewDecoder(secretsFile).Decode(&contents); err != nil {
			return nil, fmt.Errorf("failed to decode secrets file: %w", err)
		}
		if contents.Secrets != nil {
			secrets = contents.Secrets
		}
	}

	return &FileProvider{
		filePath: filePath,
		secrets:  secrets,
	}, nil
}

// GetSecret retrieves a secret from the file store.
func (f *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	value, ok := f.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// SetSecret stores a secret and rewrites the backing file.
func (f *FileProvider) SetSecret(_ context.Context, name, value string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.secrets[name] = value
	return f.updateFile()
}

// DeleteSecret removes a secret and rewrites the backing file.
func (f *FileProvider) DeleteSecret(_ context.Context, name string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.secrets[name]; !exists {
		return fmt.Errorf("cannot delete non-existent secret: %s", name)
	}

	delete(f.secrets, name)
	return f.updateFile()
}

// ListSecrets returns the names of all stored secrets, never their values.
func (f *FileProvider) ListSecrets(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.secrets))
	for name := range f.secrets {
		names = append(names, name)
	}
	return names, nil
}

// Cleanup is a no-op for the file store.
func (*FileProvider) Cleanup() error {
	return nil
}

func (f *FileProvider) updateFile() error {
	contents, err := json.Marshal(fileStructure{Secrets: f.secrets})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	secretsFile, err := os.OpenFile(f.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	if _, err := secretsFile.Write(contents); err != nil {
		return fmt.Errorf("failed to write secrets to file: %w", err)
	}
	return nil
}
