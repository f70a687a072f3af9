// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/delego/pkg/auth/jwks"
	"github.com/stacklok/delego/pkg/config"
	"github.com/stacklok/delego/pkg/delego"
	"github.com/stacklok/delego/pkg/validation"
)

// Validator validates bearer tokens against the trusted-IdP configurations.
// Several configurations may share a logical name; the validator selects the
// one matching the token's issuer and audience.
type Validator struct {
	idps []config.IdPConfig
	keys *jwks.Cache

	// httpClient serves OIDC discovery when an IdP omits its jwksUri.
	httpClient *http.Client

	// resolved maps an IdP triple to its discovered JWKS URI.
	resolvedMu sync.RWMutex
	resolved   map[string]string

	now func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source for tests.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// WithDiscoveryHTTPClient overrides the HTTP client used for OIDC discovery.
func WithDiscoveryHTTPClient(client *http.Client) ValidatorOption {
	return func(v *Validator) {
		v.httpClient = client
	}
}

// NewValidator builds a Validator over the given IdP configurations and
// key-set cache.
func NewValidator(idps []config.IdPConfig, keys *jwks.Cache, opts ...ValidatorOption) *Validator {
	v := &Validator{
		idps:       idps,
		keys:       keys,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		resolved:   make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Initialize resolves JWKS URIs for all configured IdPs and preflights their
// key sets in parallel. The returned map carries per-IdP failures; an
// unreachable IdP at startup is a warning for the caller, not a fatal error,
// because its first live validation retries the fetch.
func (v *Validator) Initialize(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	uris := make([]string, 0, len(v.idps))
	uriToIdP := make(map[string]string, len(v.idps))

	for _, idp := range v.idps {
		uri, err := v.jwksURIFor(ctx, idp)
		if err != nil {
			failures[idpLabel(idp)] = err
			continue
		}
		if !slices.Contains(uris, uri) {
			uris = append(uris, uri)
		}
		uriToIdP[uri] = idpLabel(idp)
	}

	for uri, err := range v.keys.Preflight(ctx, uris) {
		failures[uriToIdP[uri]] = err
	}
	return failures
}

// Validate checks the token against the IdP configurations registered under
// idpName and returns the validated claims, or a classified error.
func (v *Validator) Validate(ctx context.Context, tokenString, idpName string) (*ValidatedClaims, error) {
	header, rawClaims, err := parseUnverified(tokenString)
	if err != nil {
		return nil, err
	}

	// The algorithm gate runs before anything else, including IdP
	// selection: alg=none must never reach a key lookup.
	if err := validation.ValidateAlgorithm(header.alg); err != nil {
		return nil, delego.WrapError(delego.KindInvalidAlgorithm, header.alg, err)
	}

	idp, err := v.selectIdP(idpName, rawClaims)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(idp.Algorithms, header.alg) {
		return nil, delego.Errorf(delego.KindInvalidAlgorithm,
			"algorithm %s not allowed for IdP %s", header.alg, idp.Name)
	}
	if header.kid == "" {
		return nil, delego.NewError(delego.KindUnknownKey, "token header missing kid")
	}

	claims, err := v.verifySignature(ctx, tokenString, idp, header.kid)
	if err != nil {
		return nil, err
	}
	if err := v.verifyStandardClaims(claims, idp); err != nil {
		return nil, err
	}

	vc := &ValidatedClaims{IdP: idp, Claims: claims}
	vc.extractMappedFields()
	if vc.UserID == "" {
		return nil, delego.Errorf(delego.KindMissingRequiredClaim,
			"claim %q (userId) is absent", idp.ClaimMappings.UserID)
	}
	return vc, nil
}

type tokenHeader struct {
	alg string
	kid string
}

// parseUnverified decodes the token header and claims without verifying the
// signature, enough to drive algorithm rejection and IdP selection.
func parseUnverified(tokenString string) (tokenHeader, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return tokenHeader{}, nil, delego.WrapError(delego.KindInvalidSignature, "malformed token", err)
	}

	header := tokenHeader{}
	header.alg, _ = token.Header["alg"].(string)
	header.kid, _ = token.Header["kid"].(string)
	return header, claims, nil
}

// selectIdP picks the unique configuration under idpName whose issuer equals
// the token's iss and whose audience is a member of the token's aud set.
func (v *Validator) selectIdP(idpName string, claims jwt.MapClaims) (config.IdPConfig, error) {
	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return config.IdPConfig{}, delego.NewError(delego.KindMissingRequiredClaim, "iss claim is absent")
	}
	audiences, err := claims.GetAudience()
	if err != nil || len(audiences) == 0 {
		return config.IdPConfig{}, delego.NewError(delego.KindMissingRequiredClaim, "aud claim is absent")
	}

	var matched []config.IdPConfig
	named := 0
	for _, idp := range v.idps {
		if idp.Name != idpName {
			continue
		}
		named++
		if idp.Issuer == strings.TrimSpace(issuer) && slices.Contains(audiences, idp.Audience) {
			matched = append(matched, idp)
		}
	}

	switch len(matched) {
	case 0:
		if named == 0 {
			return config.IdPConfig{}, delego.Errorf(delego.KindUnknownIdP,
				"no IdP configured under name %q", idpName)
		}
		return config.IdPConfig{}, delego.Errorf(delego.KindUnknownIdP,
			"no IdP named %q matches issuer %s and audience %v", idpName, issuer, audiences)
	case 1:
		return matched[0], nil
	default:
		// More than one config claiming the same (issuer, audience) under
		// one name is a configuration error, not a token problem.
		return config.IdPConfig{}, delego.Errorf(delego.KindAmbiguousIdP,
			"%d IdP configurations named %q match issuer %s", len(matched), idpName, issuer)
	}
}

// verifySignature checks the token signature against the IdP's key with the
// matching kid, forcing one rate-limited JWKS refresh on an unknown kid.
// Claim validation is done separately so each failure maps to its own kind.
func (v *Validator) verifySignature(
	ctx context.Context,
	tokenString string,
	idp config.IdPConfig,
	kid string,
) (jwt.MapClaims, error) {
	jwksURI, err := v.jwksURIFor(ctx, idp)
	if err != nil {
		return nil, delego.WrapError(delego.KindUnknownKey, "resolving JWKS URI", err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(idp.Algorithms),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.Parse(tokenString, func(*jwt.Token) (any, error) {
		key, err := v.keys.KeyByID(ctx, jwksURI, kid)
		if err != nil {
			return nil, err
		}
		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			return nil, fmt.Errorf("exporting verification key: %w", err)
		}
		return raw, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwks.ErrKeyNotFound):
			return nil, delego.WrapError(delego.KindUnknownKey, fmt.Sprintf("kid %q", kid), err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, delego.WrapError(delego.KindInvalidSignature, "", err)
		default:
			return nil, delego.WrapError(delego.KindInvalidSignature, "verifying token", err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, delego.NewError(delego.KindInvalidSignature, "unexpected claims shape")
	}
	return claims, nil
}

// verifyStandardClaims checks exp, nbf, iat, iss, and aud against the IdP's
// security knobs. Each failure maps to its own error kind so audit records
// distinguish an expired token from an audience mismatch.
func (v *Validator) verifyStandardClaims(claims jwt.MapClaims, idp config.IdPConfig) error {
	now := v.now()
	tolerance := time.Duration(idp.ClockTolerance)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return delego.NewError(delego.KindMissingRequiredClaim, "exp claim is absent")
	}
	// exp == now-tolerance is rejected; one second later is accepted.
	if !exp.Time.After(now.Add(-tolerance)) {
		return delego.Errorf(delego.KindTokenExpired, "token expired at %s", exp.Time.Format(time.RFC3339))
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return delego.WrapError(delego.KindTokenNotYetValid, "reading nbf claim", err)
	}
	if nbf == nil && idp.RequireNbf {
		return delego.NewError(delego.KindMissingRequiredClaim, "nbf claim is absent but required")
	}
	if nbf != nil && nbf.Time.After(now.Add(tolerance)) {
		return delego.Errorf(delego.KindTokenNotYetValid,
			"token not valid before %s", nbf.Time.Format(time.RFC3339))
	}

	if maxAge := time.Duration(idp.MaxTokenAge); maxAge > 0 {
		iat, err := claims.GetIssuedAt()
		if err != nil || iat == nil {
			return delego.NewError(delego.KindMissingRequiredClaim, "iat claim is absent but maxTokenAge is set")
		}
		if now.Sub(iat.Time) > maxAge+tolerance {
			return delego.Errorf(delego.KindTokenTooOld,
				"token issued at %s exceeds max age %s", iat.Time.Format(time.RFC3339), maxAge)
		}
	}

	issuer, err := claims.GetIssuer()
	if err != nil || strings.TrimSpace(issuer) != idp.Issuer {
		return delego.Errorf(delego.KindIssuerMismatch, "issuer %q does not match %q", issuer, idp.Issuer)
	}
	audiences, err := claims.GetAudience()
	if err != nil || !slices.Contains(audiences, idp.Audience) {
		return delego.Errorf(delego.KindAudienceMismatch, "audience %v does not contain %q", audiences, idp.Audience)
	}
	return nil
}

// jwksURIFor returns the IdP's configured JWKS URI, or discovers it once
// from the issuer's OIDC metadata and memoizes the result.
func (v *Validator) jwksURIFor(ctx context.Context, idp config.IdPConfig) (string, error) {
	if idp.JWKSURI != "" {
		return idp.JWKSURI, nil
	}

	label := idpLabel(idp)
	v.resolvedMu.RLock()
	uri, ok := v.resolved[label]
	v.resolvedMu.RUnlock()
	if ok {
		return uri, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, v.httpClient), idp.Issuer)
	if err != nil {
		return "", fmt.Errorf("OIDC discovery for issuer %s: %w", idp.Issuer, err)
	}
	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return "", fmt.Errorf("decoding OIDC metadata for issuer %s: %w", idp.Issuer, err)
	}
	if metadata.JWKSURI == "" {
		return "", fmt.Errorf("OIDC metadata for issuer %s carries no jwks_uri", idp.Issuer)
	}

	v.resolvedMu.Lock()
	v.resolved[label] = metadata.JWKSURI
	v.resolvedMu.Unlock()
	return metadata.JWKSURI, nil
}

func idpLabel(idp config.IdPConfig) string {
	return idp.Name + "/" + idp.Issuer + "/" + idp.Audience
}
