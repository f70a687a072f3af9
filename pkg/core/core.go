// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package core wires the engine components together and owns their
// lifecycle: build, initialize, destroy.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/auth"
	"github.com/stacklok/delego/pkg/auth/jwks"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delegation"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/logger"
	"github.com/stacklok/delego/pkg/networking"
	"github.com/stacklok/delego/pkg/telemetry"
	"github.com/stacklok/delego/pkg/tokencache"
	"github.com/stacklok/delego/pkg/tokenexchange"
	"github.com/stacklok/delego/pkg/tools"
)

// ModuleFactory builds a delegation module instance from its configuration.
// Settings are applied later, during Initialize.
type ModuleFactory func(cfg config.ModuleConfig) (delegation.Module, error)

// builtinFactories maps module types to their constructors.
var builtinFactories = map[string]ModuleFactory{
	delegation.EchoModuleType: func(cfg config.ModuleConfig) (delegation.Module, error) {
		return delegation.NewEchoModule(cfg.Name), nil
	},
}

// Option customizes CoreContext construction.
type Option func(*options)

type options struct {
	outboundClient *http.Client
	factories      map[string]ModuleFactory
}

// WithOutboundHTTPClient overrides the HTTP client used for all outbound IdP
// traffic (discovery, JWKS, token exchange). Tests inject httptest clients
// through this.
func WithOutboundHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.outboundClient = client
	}
}

// WithModuleFactory registers an additional module type.
func WithModuleFactory(moduleType string, factory ModuleFactory) Option {
	return func(o *options) {
		o.factories[moduleType] = factory
	}
}

// CoreContext holds every engine component. Build it with New, bring it up
// with Initialize, and tear it down with Destroy.
type CoreContext struct {
	Config     *config.Config
	Audit      audit.Service
	Metrics    *telemetry.Metrics
	Auth       *auth.Service
	TokenCache *tokencache.Cache
	Exchanger  *tokenexchange.Service
	Registry   *delegation.Registry
	Tools      *tools.ToolSet

	destroyOnce sync.Once
	destroyErr  error
}

// New builds the full component graph from the configuration, leaves first.
// Nothing touches the network yet; that happens in Initialize.
func New(cfg *config.Config, opts ...Option) (*CoreContext, error) {
	o := &options{factories: make(map[string]ModuleFactory, len(builtinFactories))}
	for moduleType, factory := range builtinFactories {
		o.factories[moduleType] = factory
	}
	for _, opt := range opts {
		opt(o)
	}

	auditSvc := audit.New(*cfg.Auth.Audit, logger.Get())

	var metrics *telemetry.Metrics
	if cfg.Telemetry != nil {
		metrics = telemetry.New(*cfg.Telemetry)
	}

	outbound := o.outboundClient
	if outbound == nil {
		var err error
		outbound, err = networking.NewClientBuilder().
			WithCABundle(cfg.Network.CABundle).
			WithPrivateIPs(cfg.Network.AllowPrivateIPs).
			Build()
		if err != nil {
			return nil, delego.WrapError(delego.KindConfiguration, "building outbound HTTP client", err)
		}
	}

	keys := jwks.New(jwks.WithHTTPClient(outbound))
	validator := auth.NewValidator(cfg.Auth.TrustedIdPs, keys, auth.WithDiscoveryHTTPClient(outbound))
	authSvc := auth.NewService(validator, auth.NewRoleMapper(), auth.NewSessionManager(), auditSvc, metrics)

	cache, err := tokencache.New(cfg.Delegation.TokenCache, auditSvc, metrics)
	if err != nil {
		return nil, err
	}

	exchanger := tokenexchange.NewService(cache, auditSvc, metrics, tokenexchange.WithHTTPClient(outbound))

	registry := delegation.NewRegistry(exchanger, auditSvc, metrics)
	for _, moduleCfg := range cfg.Delegation.Modules {
		factory, ok := o.factories[moduleCfg.Type]
		if !ok {
			return nil, delego.Errorf(delego.KindConfiguration,
				"module %q has unknown type %q", moduleCfg.Name, moduleCfg.Type)
		}
		module, err := factory(moduleCfg)
		if err != nil {
			return nil, delego.WrapError(delego.KindConfiguration,
				fmt.Sprintf("building module %q", moduleCfg.Name), err)
		}
		if err := registry.Register(module, moduleCfg); err != nil {
			return nil, err
		}
	}

	descriptors, err := tools.ModuleTools(registry)
	if err != nil {
		return nil, err
	}
	descriptors = append(descriptors, tools.HealthCheckTool(registry))
	toolSet, err := tools.NewToolSet(auditSvc, descriptors...)
	if err != nil {
		return nil, err
	}

	return &CoreContext{
		Config:     cfg,
		Audit:      auditSvc,
		Metrics:    metrics,
		Auth:       authSvc,
		TokenCache: cache,
		Exchanger:  exchanger,
		Registry:   registry,
		Tools:      toolSet,
	}, nil
}

// Initialize brings the components up: JWKS preflight for the trusted IdPs,
// then module initialization in registration order. A failing module is
// fatal; an unreachable IdP is only a warning.
func (c *CoreContext) Initialize(ctx context.Context) error {
	if err := c.Auth.Initialize(ctx); err != nil {
		return err
	}

	for _, moduleCfg := range c.Config.Delegation.Modules {
		module, ok := c.Registry.Module(moduleCfg.Name)
		if !ok {
			return delego.Errorf(delego.KindConfiguration, "module %q not registered", moduleCfg.Name)
		}
		if err := module.Initialize(ctx, moduleCfg.Settings); err != nil {
			return delego.WrapError(delego.KindConfiguration,
				fmt.Sprintf("initializing module %q", moduleCfg.Name), err)
		}
		logger.Infow("delegation module initialized", "module", moduleCfg.Name, "type", moduleCfg.Type)
	}
	return nil
}

// Destroy tears the components down in reverse order: modules first, then
// the token cache (zeroizing its root key). Idempotent; repeat calls return
// the first outcome.
func (c *CoreContext) Destroy(ctx context.Context) error {
	c.destroyOnce.Do(func() {
		var errs []error
		if err := c.Registry.DestroyAll(ctx); err != nil {
			errs = append(errs, err)
		}
		c.TokenCache.Close()
		c.destroyErr = errors.Join(errs...)
	})
	return c.destroyErr
}
