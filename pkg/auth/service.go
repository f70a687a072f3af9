// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/logger"
	"github.com/stacklok/delego/pkg/telemetry"
)

// Service is the engine's single authentication entry point. It composes
// the validator, role mapper, and session manager, and emits exactly one
// terminal audit entry per Authenticate call.
type Service struct {
	validator *Validator
	mapper    *RoleMapper
	sessions  *SessionManager
	audit     audit.Service
	metrics   *telemetry.Metrics
}

// NewService builds the authentication service. The audit service must not
// be nil; pass the no-op sink when auditing is disabled.
func NewService(
	validator *Validator,
	mapper *RoleMapper,
	sessions *SessionManager,
	auditSvc audit.Service,
	metrics *telemetry.Metrics,
) *Service {
	return &Service{
		validator: validator,
		mapper:    mapper,
		sessions:  sessions,
		audit:     auditSvc,
		metrics:   metrics,
	}
}

// Initialize preflights the JWKS of every configured IdP. Unreachable IdPs
// are logged as warnings, not errors: their first live validation retries
// the fetch.
func (s *Service) Initialize(ctx context.Context) error {
	for idp, err := range s.validator.Initialize(ctx) {
		logger.Warnw("JWKS preflight failed, first validation will retry", "idp", idp, "error", err)
	}
	return nil
}

// Authenticate validates the bearer token against the IdPs registered under
// idpName (the reserved requestor context when empty) and returns a tagged
// result. One terminal audit entry is emitted per call; its success flag
// matches the result tag.
func (s *Service) Authenticate(ctx context.Context, token, idpName string) Result {
	if idpName == "" {
		idpName = delego.RequestorIdPName
	}

	vc, err := s.validator.Validate(ctx, token, idpName)
	if err != nil {
		s.audit.Log(audit.NewEntry(audit.SourceAuthJWT, "authenticate").
			WithResource(idpName).
			FailWithError(err))
		s.metrics.RecordAuthResult(string(StatusError), idpName)
		return errorResult(err)
	}

	role, reason := s.mapper.Map(vc)
	if role == delego.RoleUnassigned {
		session := s.sessions.BuildRejected(vc, token)
		s.audit.Log(audit.NewEntry(audit.SourceAuthService, "authenticate").
			WithSession(session.UserID, session.SessionID).
			WithResource(idpName).
			Fail(reason))
		s.metrics.RecordAuthResult(string(StatusRejected), idpName)
		return rejected(session, reason)
	}

	session := s.sessions.Build(vc, role, token)
	s.audit.Log(audit.NewEntry(audit.SourceAuthService, "authenticate").
		WithSession(session.UserID, session.SessionID).
		WithResource(idpName).
		Succeed())
	s.metrics.RecordAuthResult(string(StatusAuthenticated), idpName)
	return authenticated(session)
}
