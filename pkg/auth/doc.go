// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the engine's authentication pipeline: an
// IdP-matching JWT validator, per-IdP role mapping with an unassigned-role
// failure policy, per-request session construction, and the authentication
// service that composes them behind a single Authenticate entry point.
//
// The pipeline returns a tagged Result rather than an error sentinel so the
// transport cannot treat a policy rejection as success: a token that is
// cryptographically valid but fails role policy yields StatusRejected with a
// powerless session, distinct from both StatusAuthenticated and StatusError.
package auth
