// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokenexchange

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/delego/pkg/audit"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/telemetry"
	"github.com/stacklok/delego/pkg/tokencache"
)

// DefaultTimeout bounds one exchange HTTP request when the module's
// configuration leaves the timeout unset.
const DefaultTimeout = 10 * time.Second

// Request asks for an exchanged token on behalf of one session.
type Request struct {
	// SubjectToken is the raw token the user authenticated with.
	SubjectToken string
	// Audience overrides the module's configured audience when set.
	Audience string
	// Scopes overrides the module's configured scope when set.
	Scopes []string
	// SessionID scopes caching to the requesting session.
	SessionID string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHTTPClient overrides the HTTP client used for token endpoint calls.
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithServiceClock overrides the time source for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// Service performs RFC 8693 exchanges with the encrypted cache in front.
// One Exchange call emits exactly one terminal audit entry.
type Service struct {
	cache      *tokencache.Cache
	audit      audit.Service
	metrics    *telemetry.Metrics
	httpClient *http.Client
	now        func() time.Time
}

// NewService builds the exchange service. A nil cache disables caching
// entirely; the audit service must not be nil.
func NewService(cache *tokencache.Cache, auditSvc audit.Service, metrics *telemetry.Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		cache:      cache,
		audit:      auditSvc,
		metrics:    metrics,
		httpClient: http.DefaultClient,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exchange returns an access token for the requested audience, serving from
// the cache when possible. The subject token never appears in logs or audit
// entries; cache entries are bound to it through the AAD.
func (s *Service) Exchange(ctx context.Context, req Request, cfg config.TokenExchangeConfig) (string, error) {
	audience := req.Audience
	if audience == "" {
		audience = cfg.Audience
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = strings.Fields(cfg.Scope)
	}

	cacheEnabled := s.cache != nil && (cfg.Cache == nil || !cfg.Cache.Disabled)
	if cacheEnabled {
		key := tokencache.NewKey(req.SessionID, audience, scopes)
		if token, ok := s.cache.Get(key, req.SubjectToken); ok {
			s.audit.Log(audit.NewEntry(audit.SourceTokenExchange, "token_exchange").
				WithSession("", req.SessionID).
				WithResource(audience).
				WithMetadata("cache", "hit").
				Succeed())
			s.metrics.RecordTokenExchange("cache_hit", 0)
			return token.AccessToken, nil
		}
	}

	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	exchangeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wire := &client{
		endpoint:     cfg.TokenEndpoint,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   s.httpClient,
	}

	start := s.now()
	resp, err := wire.exchange(exchangeCtx, wireRequest{
		SubjectToken: req.SubjectToken,
		Audience:     audience,
		Scopes:       scopes,
	})
	elapsed := s.now().Sub(start)
	if err != nil {
		s.audit.Log(audit.NewEntry(audit.SourceTokenExchange, "token_exchange").
			WithSession("", req.SessionID).
			WithResource(audience).
			FailWithError(err))
		s.metrics.RecordTokenExchange("failure", elapsed.Seconds())
		return "", delego.WrapError(delego.KindTokenExchangeFailed,
			"exchange for audience "+audience+" failed", err)
	}

	// A cancelled request must not populate the cache: the caller is gone
	// and the entry would outlive the request that minted it unobserved.
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.audit.Log(audit.NewEntry(audit.SourceTokenExchange, "token_exchange").
			WithSession("", req.SessionID).
			WithResource(audience).
			FailWithError(ctxErr))
		s.metrics.RecordTokenExchange("failure", elapsed.Seconds())
		return "", delego.WrapError(delego.KindTokenExchangeFailed, "request aborted", ctxErr)
	}

	cached := "bypass"
	if cacheEnabled && resp.ExpiresIn > 0 {
		expiresAt := s.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		if cfg.Cache != nil && cfg.Cache.TTL > 0 {
			if byOverride := s.now().Add(time.Duration(cfg.Cache.TTL)); byOverride.Before(expiresAt) {
				expiresAt = byOverride
			}
		}

		// The entry is stored under the scope the IdP actually granted, so
		// a downscoped response never satisfies a broader later request.
		storeScopes := scopes
		if resp.Scope != "" {
			storeScopes = strings.Fields(resp.Scope)
		}
		key := tokencache.NewKey(req.SessionID, audience, storeScopes)
		if putErr := s.cache.Put(key, req.SubjectToken, tokencache.Token{
			AccessToken: resp.AccessToken,
			TokenType:   resp.TokenType,
			Scope:       tokencache.CanonicalScope(storeScopes),
			ExpiresAt:   expiresAt,
		}); putErr == nil {
			cached = "stored"
		}
	}

	s.audit.Log(audit.NewEntry(audit.SourceTokenExchange, "token_exchange").
		WithSession("", req.SessionID).
		WithResource(audience).
		WithMetadata("cache", cached).
		Succeed())
	s.metrics.RecordTokenExchange("success", elapsed.Seconds())
	return resp.AccessToken, nil
}
