// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import "github.com/stacklok/delego/pkg/delego"

// Status tags an authentication result.
type Status string

// Authentication result tags.
const (
	// StatusAuthenticated means the token validated and the session is
	// usable.
	StatusAuthenticated Status = "authenticated"
	// StatusRejected means the token was cryptographically valid but policy
	// forbids its use. Not an error: auditing distinguishes valid-but-
	// unauthorized attempts from signature failures.
	StatusRejected Status = "rejected"
	// StatusError means validation failed.
	StatusError Status = "error"
)

// Result is the outcome of Authenticate. Exactly one of the three shapes
// holds: Authenticated carries a usable session; Rejected carries a
// powerless session and a reason; Error carries the validation error.
type Result struct {
	// Status tags which shape this result is.
	Status Status
	// Session is set for Authenticated and Rejected results. A Rejected
	// session carries the Unassigned role and empty scopes.
	Session delego.UserSession
	// Reason explains a rejection in human-readable terms.
	Reason string
	// Err is the classified validation error for Error results.
	Err error
}

// Authenticated reports whether the result grants access.
func (r Result) Authenticated() bool {
	return r.Status == StatusAuthenticated
}

func authenticated(session delego.UserSession) Result {
	return Result{Status: StatusAuthenticated, Session: session}
}

func rejected(session delego.UserSession, reason string) Result {
	return Result{Status: StatusRejected, Session: session, Reason: reason}
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Err: err}
}
