// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"log/slog"
	"time"
)

// LevelAudit is a custom slog level for audit entries. It sits between Info
// and Warn so audit records survive the default Info filter without being
// flagged as warnings.
const LevelAudit = slog.Level(2)

// Source tags the component an audit entry originated from.
type Source string

// Well-known audit sources.
const (
	// SourceAuthService tags entries emitted by the authentication service.
	SourceAuthService Source = "auth:service"
	// SourceAuthJWT tags entries emitted by the JWT validator.
	SourceAuthJWT Source = "auth:jwt"
	// SourceTokenExchange tags entries emitted by the token-exchange service.
	SourceTokenExchange Source = "token-exchange"
	// SourceCache tags entries emitted by the encrypted token cache.
	SourceCache Source = "cache"
)

// SourceDelegation returns the source tag for a delegation module.
func SourceDelegation(module string) Source {
	return Source("delegation:" + module)
}

// Entry is a single audit record. Entries are created during request handling
// and appended to the audit service; the timestamp and sessionId allow
// interleaved entries from concurrent requests to be reassembled.
type Entry struct {
	// Timestamp records when the entry was created, in UTC.
	Timestamp time.Time `json:"timestamp"`
	// Source identifies the emitting component.
	Source Source `json:"source"`
	// UserID is the authenticated user the entry concerns, if known.
	UserID string `json:"userId,omitempty"`
	// SessionID correlates all entries of one request.
	SessionID string `json:"sessionId,omitempty"`
	// Action names the operation, e.g. "authenticate" or "token_exchange".
	Action string `json:"action"`
	// Resource names the target of the operation, e.g. a module or audience.
	Resource string `json:"resource,omitempty"`
	// Success records the outcome of the operation.
	Success bool `json:"success"`
	// Reason carries a human-readable explanation for policy decisions.
	Reason string `json:"reason,omitempty"`
	// Error carries the full internal error detail. It is never returned to
	// callers; sanitized phrases go in their place.
	Error string `json:"error,omitempty"`
	// Metadata enhances the entry with extra information useful for
	// forensic analysis.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEntry returns an Entry stamped with the current UTC time.
func NewEntry(source Source, action string) Entry {
	return Entry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Action:    action,
	}
}

// WithSession sets the user and session correlation fields.
func (e Entry) WithSession(userID, sessionID string) Entry {
	e.UserID = userID
	e.SessionID = sessionID
	return e
}

// WithResource sets the target of the operation.
func (e Entry) WithResource(resource string) Entry {
	e.Resource = resource
	return e
}

// WithMetadata attaches a single metadata key/value pair.
func (e Entry) WithMetadata(key string, value any) Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, 1)
	}
	e.Metadata[key] = value
	return e
}

// Succeed marks the entry successful.
func (e Entry) Succeed() Entry {
	e.Success = true
	return e
}

// Fail marks the entry unsuccessful with a policy reason.
func (e Entry) Fail(reason string) Entry {
	e.Success = false
	e.Reason = reason
	return e
}

// FailWithError marks the entry unsuccessful and records the internal error.
func (e Entry) FailWithError(err error) Entry {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// logTo mirrors the entry to the provided slog.Logger at LevelAudit.
func (e Entry) logTo(ctx context.Context, logger *slog.Logger) {
	attrs := []slog.Attr{
		slog.Time("timestamp", e.Timestamp),
		slog.String("source", string(e.Source)),
		slog.String("action", e.Action),
		slog.Bool("success", e.Success),
	}

	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", e.SessionID))
	}
	if e.Resource != "" {
		attrs = append(attrs, slog.String("resource", e.Resource))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if e.Metadata != nil {
		attrs = append(attrs, slog.Any("metadata", e.Metadata))
	}

	logger.LogAttrs(ctx, LevelAudit, "audit_entry", attrs...)
}
