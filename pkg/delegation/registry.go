// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delegation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/logger"
	"github.com/stacklok/delego/pkg/telemetry"
	"github.com/stacklok/delego/pkg/validation"
)

// Sanitized failure phrases returned to callers. Full diagnostics go to the
// audit trail only.
const (
	phraseUnknownModule = "unknown module"
	phraseAccessDenied  = "access denied"
	phraseModuleFailure = "module failure"
)

// registration pairs a module with its configuration.
type registration struct {
	module Module
	cfg    config.ModuleConfig
}

// Registry holds the delegation modules and dispatches actions to them.
// Registration happens before serving starts; dispatch takes a read lock
// only.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*registration
	order   []string

	exchanger TokenExchanger
	audit     audit.Service
	metrics   *telemetry.Metrics
	now       func() time.Time
}

// NewRegistry builds an empty registry. The audit service must not be nil;
// the exchanger may be nil when no module is configured for token exchange.
func NewRegistry(exchanger TokenExchanger, auditSvc audit.Service, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		modules:   make(map[string]*registration),
		exchanger: exchanger,
		audit:     auditSvc,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Register adds a module under its configuration. Duplicate names and
// invalid identifiers are configuration errors.
func (r *Registry) Register(module Module, cfg config.ModuleConfig) error {
	name := module.Name()
	if err := validation.ValidateIdentifier(name); err != nil {
		return delego.WrapError(delego.KindConfiguration,
			fmt.Sprintf("invalid module name %q", name), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		return delego.Errorf(delego.KindConfiguration, "duplicate module name %q", name)
	}
	r.modules[name] = &registration{module: module, cfg: cfg}
	r.order = append(r.order, name)
	return nil
}

// Module returns the registered module of that name.
func (r *Registry) Module(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.modules[name]
	if !ok {
		return nil, false
	}
	return reg.module, true
}

// Names returns the module names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Delegate dispatches one action to the named module. It always returns a
// non-nil result; on failure the result's Error is a sanitized phrase and
// the returned error carries the classification. Exactly one terminal audit
// entry is logged per call, module-supplied or registry default.
func (r *Registry) Delegate(
	ctx context.Context,
	name string,
	session delego.UserSession,
	action string,
	params map[string]any,
) (*Result, error) {
	start := r.now()

	r.mu.RLock()
	reg, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		r.audit.Log(audit.NewEntry(audit.SourceDelegation(name), action).
			WithSession(session.UserID, session.SessionID).
			Fail(phraseUnknownModule))
		r.metrics.RecordDelegation(name, "unknown_module", r.now().Sub(start).Seconds())
		return &Result{Success: false, Error: phraseUnknownModule},
			delego.Errorf(delego.KindUnknownModule, "no module named %q", name)
	}

	if !reg.module.ValidateAccess(session) {
		r.audit.Log(audit.NewEntry(audit.SourceDelegation(name), action).
			WithSession(session.UserID, session.SessionID).
			Fail(phraseAccessDenied))
		r.metrics.RecordDelegation(name, "access_denied", r.now().Sub(start).Seconds())
		return &Result{Success: false, Error: phraseAccessDenied},
			delego.Errorf(delego.KindAccessDenied, "session %s denied by module %q", session.SessionID, name)
	}

	result, err := r.invoke(ctx, reg, session, action, params)
	elapsed := r.now().Sub(start).Seconds()
	if err != nil {
		kind := delego.KindOf(err)
		if kind == "" {
			kind = delego.KindModuleFailure
			err = delego.WrapError(kind, fmt.Sprintf("module %q failed", name), err)
		}
		r.audit.Log(audit.NewEntry(audit.SourceDelegation(name), action).
			WithSession(session.UserID, session.SessionID).
			FailWithError(err))
		r.metrics.RecordDelegation(name, string(kind), elapsed)
		return &Result{Success: false, Error: phraseModuleFailure}, err
	}

	entry := result.AuditTrail
	if entry.Action == "" {
		entry = audit.NewEntry(audit.SourceDelegation(name), action).
			WithSession(session.UserID, session.SessionID)
		if result.Success {
			entry = entry.Succeed()
		} else {
			entry = entry.Fail(result.Error)
		}
	}
	r.audit.Log(entry)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	r.metrics.RecordDelegation(name, outcome, elapsed)
	return result, nil
}

// invoke calls the module with a fresh capability handle, recovering panics
// into ModuleFailure errors.
func (r *Registry) invoke(
	ctx context.Context,
	reg *registration,
	session delego.UserSession,
	action string,
	params map[string]any,
) (result *Result, err error) {
	name := reg.module.Name()
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Errorw("Delegation module panicked", "module", name, "panic", recovered)
			result = nil
			err = delego.Errorf(delego.KindModuleFailure, "module %q panicked: %v", name, recovered)
		}
	}()

	result, err = reg.module.Delegate(ctx, Request{
		Session: session,
		Action:  action,
		Params:  params,
		Capabilities: Capabilities{
			SessionID:      session.SessionID,
			Exchanger:      r.exchanger,
			ExchangeConfig: reg.cfg.TokenExchange,
			Audit:          r.audit,
		},
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, delego.Errorf(delego.KindModuleFailure, "module %q returned no result", name)
	}
	return result, nil
}

// HealthCheck probes every module and reports liveness per name.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	regs := make([]*registration, 0, len(r.order))
	for _, name := range r.order {
		regs = append(regs, r.modules[name])
	}
	r.mu.RUnlock()

	health := make(map[string]bool, len(regs))
	for _, reg := range regs {
		health[reg.module.Name()] = reg.module.HealthCheck(ctx)
	}
	return health
}

// DestroyAll tears the modules down in reverse registration order. Errors
// are collected; teardown continues past failures. Idempotent because each
// module's Destroy is.
func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		reg := r.modules[r.order[i]]
		if err := reg.module.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroying module %q: %w", r.order[i], err))
		}
	}
	return errors.Join(errs...)
}
