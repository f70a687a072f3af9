// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools is the dispatch surface between the transport and the
// delegation registry: tool descriptors with per-session visibility,
// execution-time re-checks, and a uniform sanitized response envelope.
package tools

import (
	"github.com/stacklok/delego/pkg/delego"
)

// Status tags a tool response envelope.
type Status string

// Envelope statuses.
const (
	// StatusSuccess carries data.
	StatusSuccess Status = "success"
	// StatusFailure carries a code and a sanitized message.
	StatusFailure Status = "failure"
)

// Code classifies a tool failure for the caller.
type Code string

// Failure codes.
const (
	// CodeForbidden means the session may not use the tool.
	CodeForbidden Code = "forbidden"
	// CodeUnknownTool means no tool of that name exists.
	CodeUnknownTool Code = "unknown_tool"
	// CodeInvalidArguments means the call's arguments did not match the
	// tool's schema.
	CodeInvalidArguments Code = "invalid_arguments"
	// CodeModuleFailure means the backing module failed.
	CodeModuleFailure Code = "module_failure"
	// CodeTokenExchangeFailed means downstream credential acquisition
	// failed.
	CodeTokenExchangeFailed Code = "token_exchange_failed"
)

// phrases are the caller-visible messages per failure code. Internal
// diagnostics never appear here; they go to the audit trail.
var phrases = map[Code]string{
	CodeForbidden:           "access to this tool is not permitted",
	CodeUnknownTool:         "no such tool",
	CodeInvalidArguments:    "invalid arguments",
	CodeModuleFailure:       "the operation could not be completed",
	CodeTokenExchangeFailed: "downstream credentials could not be obtained",
}

// Envelope is the uniform tool response shape.
type Envelope struct {
	// Status is "success" or "failure".
	Status Status `json:"status"`
	// Data is the payload on success.
	Data map[string]any `json:"data,omitempty"`
	// Code classifies a failure.
	Code Code `json:"code,omitempty"`
	// Message is the sanitized phrase for the code.
	Message string `json:"message,omitempty"`
}

// Success builds a success envelope.
func Success(data map[string]any) Envelope {
	return Envelope{Status: StatusSuccess, Data: data}
}

// Failure builds a failure envelope with the code's fixed phrase.
func Failure(code Code) Envelope {
	return Envelope{Status: StatusFailure, Code: code, Message: phrases[code]}
}

// codeForError maps a classified delegation error to a failure code.
func codeForError(err error) Code {
	switch delego.KindOf(err) {
	case delego.KindUnknownModule:
		return CodeUnknownTool
	case delego.KindAccessDenied:
		return CodeForbidden
	case delego.KindTokenExchangeFailed:
		return CodeTokenExchangeFailed
	default:
		return CodeModuleFailure
	}
}
