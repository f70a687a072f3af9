// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokenexchange implements the RFC 8693 on-behalf-of token exchange
// the engine performs against external IdPs, with an encrypted cache in
// front of the wire client.
package tokenexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/delego/pkg/logger"
)

const (
	// grantTypeTokenExchange is the RFC 8693 token exchange grant type.
	//nolint:gosec // G101: OAuth2 URN identifier, not a credential
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	// tokenTypeAccessToken identifies an OAuth 2.0 access token.
	//nolint:gosec // G101: OAuth2 URN identifier, not a credential
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	// maxResponseBodySize bounds token endpoint response bodies (1 MB).
	maxResponseBodySize = 1 << 20

	// redactedPlaceholder replaces sensitive values in string representations.
	redactedPlaceholder = "[REDACTED]"

	// emptyPlaceholder marks empty values in string representations.
	emptyPlaceholder = "<empty>"
)

// oAuthError is an OAuth 2.0 error response per RFC 6749 Section 5.2.
type oAuthError struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	StatusCode       int    `json:"-"`
}

func (e *oAuthError) Error() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("OAuth error %q (status %d): %s", e.Code, e.StatusCode, e.ErrorDescription)
	}
	return fmt.Sprintf("OAuth error %q (status %d)", e.Code, e.StatusCode)
}

// parseOAuthError attempts to parse an RFC 6749 error body. Returns nil if
// the body is not a recognizable OAuth error.
func parseOAuthError(statusCode int, body []byte) *oAuthError {
	var oauthErr oAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return nil
	}
	if oauthErr.Code == "" {
		return nil
	}
	oauthErr.StatusCode = statusCode
	return &oauthErr
}

// wireRequest holds the fields of one RFC 8693 exchange request.
type wireRequest struct {
	SubjectToken string
	Audience     string
	Scopes       []string
}

// String implements fmt.Stringer, redacting the subject token.
func (r wireRequest) String() string {
	subjectToken := redactedPlaceholder
	if r.SubjectToken == "" {
		subjectToken = emptyPlaceholder
	}
	return fmt.Sprintf("wireRequest{Audience: %s, Scopes: %v, SubjectToken: %s}",
		r.Audience, r.Scopes, subjectToken)
}

// wireResponse decodes the token endpoint's success response.
type wireResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// String implements fmt.Stringer, redacting the access token.
func (r wireResponse) String() string {
	accessToken := redactedPlaceholder
	if r.AccessToken == "" {
		accessToken = emptyPlaceholder
	}
	return fmt.Sprintf("wireResponse{AccessToken: %s, TokenType: %s, ExpiresIn: %d, Scope: %s}",
		accessToken, r.TokenType, r.ExpiresIn, r.Scope)
}

// client is the wire-level token exchange client for one endpoint.
type client struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// transientError marks a failure worth one retry: a connection error or a
// 5xx response. 4xx responses are authoritative refusals.
type transientError struct {
	cause error
}

func (e *transientError) Error() string { return e.cause.Error() }

func (e *transientError) Unwrap() error { return e.cause }

// exchange performs the POST with a single retry on transient failure.
func (c *client) exchange(ctx context.Context, req wireRequest) (*wireResponse, error) {
	operation := func() (*wireResponse, error) {
		resp, err := c.post(ctx, req)
		if err != nil {
			var transient *transientError
			if errors.As(err, &transient) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(2), // the initial attempt plus one retry
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugf("Retrying token exchange after %v: %v", duration, err)
		}),
	)
}

// post performs one POST to the token endpoint. Client credentials travel in
// the form body alongside the grant parameters.
func (c *client) post(ctx context.Context, req wireRequest) (*wireResponse, error) {
	if req.SubjectToken == "" {
		return nil, fmt.Errorf("subject_token is required")
	}

	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", req.SubjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	if req.Audience != "" {
		data.Set("audience", req.Audience)
	}
	if len(req.Scopes) > 0 {
		data.Set("scope", strings.Join(req.Scopes, " "))
	}

	encoded := data.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create token exchange request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Content-Length", strconv.Itoa(len(encoded)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transientError{cause: fmt.Errorf("token exchange request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, &transientError{cause: fmt.Errorf("failed to read token exchange response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if oauthErr := parseOAuthError(resp.StatusCode, body); oauthErr != nil {
			if resp.StatusCode >= 500 {
				return nil, &transientError{cause: oauthErr}
			}
			return nil, oauthErr
		}
		err := fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, &transientError{cause: err}
		}
		return nil, err
	}

	var tokenResp wireResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token exchange response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}
	if tokenResp.TokenType == "" {
		tokenResp.TokenType = "Bearer"
	}
	return &tokenResp, nil
}
