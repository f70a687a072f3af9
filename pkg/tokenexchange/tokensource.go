// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokenexchange

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/stacklok/delego/pkg/config"
)

// tokenSource adapts the exchange service to oauth2.TokenSource so
// delegation modules can hand downstream SDK clients a standard source.
type tokenSource struct {
	ctx     context.Context
	service *Service
	req     Request
	cfg     config.TokenExchangeConfig
}

// TokenSource returns an oauth2.TokenSource performing (cached) exchanges
// for the given request. Each Token call goes through the service, so
// repeated calls are served from the encrypted cache until expiry.
func (s *Service) TokenSource(ctx context.Context, req Request, cfg config.TokenExchangeConfig) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, service: s, req: req, cfg: cfg}
}

// Token implements oauth2.TokenSource.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := ts.service.Exchange(ts.ctx, ts.req, ts.cfg)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}
