// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package delego

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. Kinds are stable identifiers: they appear in
// audit entries and tool response envelopes, never free-form prose.
type Kind string

// JWT validation kinds. All of these surface as an Error authentication
// result and a 401 at the transport.
const (
	// KindInvalidAlgorithm means the token header carries an algorithm the
	// IdP configuration does not allow.
	KindInvalidAlgorithm Kind = "invalid_algorithm"
	// KindUnknownIdP means no configured IdP matched the token's issuer and
	// audience under the requested logical name.
	KindUnknownIdP Kind = "unknown_idp"
	// KindAmbiguousIdP means more than one configured IdP matched.
	KindAmbiguousIdP Kind = "ambiguous_idp"
	// KindUnknownKey means the token's kid was not present in the IdP's JWKS
	// even after a forced refresh.
	KindUnknownKey Kind = "unknown_key"
	// KindInvalidSignature means signature verification failed.
	KindInvalidSignature Kind = "invalid_signature"
	// KindTokenExpired means exp lies in the past beyond clock tolerance.
	KindTokenExpired Kind = "token_expired"
	// KindTokenNotYetValid means nbf lies in the future beyond clock tolerance.
	KindTokenNotYetValid Kind = "token_not_yet_valid"
	// KindTokenTooOld means iat is older than the configured maxTokenAge.
	KindTokenTooOld Kind = "token_too_old"
	// KindAudienceMismatch means the aud claim does not contain the
	// configured audience.
	KindAudienceMismatch Kind = "audience_mismatch"
	// KindIssuerMismatch means the iss claim does not equal the configured
	// issuer.
	KindIssuerMismatch Kind = "issuer_mismatch"
	// KindMissingRequiredClaim means a claim the mapping requires (such as
	// the user id) is absent.
	KindMissingRequiredClaim Kind = "missing_required_claim"
)

// Policy kinds: the token was cryptographically valid but authorization
// policy forbids its use. These surface as a Rejected result.
const (
	// KindRoleRejected means role mapping found only unmapped raw roles and
	// the IdP sets rejectUnmappedRoles.
	KindRoleRejected Kind = "role_rejected"
	// KindUnassigned means role mapping collapsed to the Unassigned sentinel.
	KindUnassigned Kind = "unassigned_role"
)

// Delegation-time kinds. These surface as a failed DelegationResult and a
// failure envelope to the tool caller.
const (
	// KindUnknownModule means no module is registered under the name.
	KindUnknownModule Kind = "unknown_module"
	// KindAccessDenied means the module's ValidateAccess precheck refused
	// the session.
	KindAccessDenied Kind = "access_denied"
	// KindModuleFailure means the module returned an error or panicked.
	KindModuleFailure Kind = "module_failure"
	// KindTokenExchangeFailed means the RFC 8693 exchange with the IdP
	// failed after retry.
	KindTokenExchangeFailed Kind = "token_exchange_failed"
)

// KindConfiguration marks errors that are fatal at initialization: a missing
// requestor-jwt IdP, duplicate module names, an unresolved secret. The
// process must not begin serving.
const KindConfiguration Kind = "configuration_error"

// Error is the classified error type used across the engine. Match the
// classification with IsKind or errors.Is against a kind-only Error; reach
// the underlying cause with errors.As / Unwrap.
type Error struct {
	kind   Kind
	detail string
	cause  error
}

// NewError builds an Error of the given kind with human-readable detail.
func NewError(kind Kind, detail string) *Error {
	return &Error{kind: kind, detail: detail}
}

// Errorf builds an Error of the given kind with formatted detail.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, detail: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind wrapping an underlying cause.
// The cause is reachable through errors.Unwrap for diagnostics but its text
// is part of the detail only, never of transport-visible phrases.
func WrapError(kind Kind, detail string, cause error) *Error {
	return &Error{kind: kind, detail: detail, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.detail == "" && e.cause == nil:
		return string(e.kind)
	case e.cause == nil:
		return string(e.kind) + ": " + e.detail
	case e.detail == "":
		return string(e.kind) + ": " + e.cause.Error()
	default:
		return string(e.kind) + ": " + e.detail + ": " + e.cause.Error()
	}
}

// Kind returns the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Detail returns the human-readable detail without the kind prefix.
func (e *Error) Detail() string {
	return e.detail
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality, so errors.Is(err, delego.NewError(kind, ""))
// matches any Error of that kind regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.kind == e.kind
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == kind
}

// KindOf extracts the kind from err, or empty string if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}
