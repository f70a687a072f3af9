// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/secrets"
)

// Loader loads the engine configuration from some source.
type Loader interface {
	// Load reads, resolves secrets in, and decodes the configuration.
	Load(ctx context.Context) (*Config, error)
}

// FileLoader loads the configuration document from a YAML or JSON file.
// YAML is a superset of JSON, so one parse path serves both.
type FileLoader struct {
	path     string
	resolver *SecretResolver
}

var _ Loader = (*FileLoader)(nil)

// NewFileLoader builds a loader for the document at path, resolving secret
// descriptors through the given provider chain.
func NewFileLoader(path string, provider secrets.Provider) *FileLoader {
	return &FileLoader{
		path:     path,
		resolver: NewSecretResolver(provider),
	}
}

// Load reads the file, substitutes secret descriptors, decodes the typed
// model, and applies defaults. It does not validate; callers run Validate
// separately so `delego validate` can report all problems at once.
func (l *FileLoader) Load(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return l.parse(ctx, data)
}

func (l *FileLoader) parse(ctx context.Context, data []byte) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, delego.WrapError(delego.KindConfiguration, "parsing config document", err)
	}

	resolved, err := l.resolver.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	// Re-encode through JSON so the typed decode shares one tag set with the
	// wire model regardless of the source format.
	encoded, err := json.Marshal(resolved)
	if err != nil {
		return nil, delego.WrapError(delego.KindConfiguration, "encoding resolved document", err)
	}

	var cfg Config
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, delego.WrapError(delego.KindConfiguration, "decoding config document", err)
	}

	cfg.EnsureDefaults()
	return &cfg, nil
}
